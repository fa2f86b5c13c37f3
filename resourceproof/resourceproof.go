// Package resourceproof implements the memory/time-bound puzzle used to
// externally verify a joiner's reachability and discourage trivial joins
// (spec.md GLOSSARY, 6: ResourceChallenge/ResourceProofResponse).
//
// The challenge data is expanded deterministically from a nonce with
// BLAKE2b in counter mode (golang.org/x/crypto/blake2b, already part of
// this module's dependency surface via x/crypto), so that solving it
// genuinely requires materialising DataSize bytes rather than a cheap
// closed-form shortcut; the solution is then a nonce search over that
// data for a hash with Difficulty leading zero bits, akin to a
// proof-of-work puzzle.
package resourceproof

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrNoSolutionFound is returned by Solve when maxAttempts is exhausted
// without finding a qualifying solution.
var ErrNoSolutionFound = errors.New("resourceproof: no solution found within attempt budget")

// MaxAttempts bounds Solve's brute-force search so a misconfigured
// difficulty cannot hang the join driver forever; callers needing more
// attempts should lower Difficulty instead of raising this.
const MaxAttempts = 1 << 24

// GenerateData deterministically expands nonce into size bytes of
// challenge material using BLAKE2b in counter mode: block i is
// BLAKE2b-256(nonce || i).
func GenerateData(nonce [32]byte, size uint64) []byte {
	const blockSize = 32
	out := make([]byte, 0, size)
	for i := uint64(0); uint64(len(out)) < size; i++ {
		var counter [8]byte
		binary.LittleEndian.PutUint64(counter[:], i)
		h := blake2bSum(nonce[:], counter[:])
		remaining := size - uint64(len(out))
		if remaining >= blockSize {
			out = append(out, h[:]...)
		} else {
			out = append(out, h[:remaining]...)
		}
	}
	return out
}

func blake2bSum(parts ...[]byte) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, and we never
		// pass one.
		panic(fmt.Sprintf("resourceproof: blake2b.New256: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// leadingZeroBits counts the number of leading zero bits in h.
func leadingZeroBits(h [32]byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// qualifies reports whether hashing data with solution produces a digest
// with at least difficulty leading zero bits.
func qualifies(data []byte, solution uint64, difficulty uint8) bool {
	var solBytes [8]byte
	binary.LittleEndian.PutUint64(solBytes[:], solution)
	h := blake2bSum(data, solBytes[:])
	return leadingZeroBits(h) >= int(difficulty)
}

// Solve searches for a solution over data such that the combined digest
// has difficulty leading zero bits, starting from 0 and incrementing.
func Solve(data []byte, difficulty uint8) (uint64, error) {
	for solution := uint64(0); solution < MaxAttempts; solution++ {
		if qualifies(data, solution, difficulty) {
			return solution, nil
		}
	}
	return 0, ErrNoSolutionFound
}

// Verify checks that solution is a valid resource-proof solution over
// data at the given difficulty.
func Verify(data []byte, difficulty uint8, solution uint64) bool {
	return qualifies(data, solution, difficulty)
}
