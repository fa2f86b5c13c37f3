package join

import "errors"

// Sentinel errors surfaced from join_network (spec.md 7: "only
// NodeNotReachable(addr) and TryJoinLater surface from join_network;
// everything else results in continued retrying with backoff").
var (
	// ErrNodeNotReachable means an elder rejected us because our
	// advertised socket could not be reached from outside; it wraps the
	// address the elder tried, via errors.Unwrap-compatible formatting.
	ErrNodeNotReachable = errors.New("join: node not reachable")

	// ErrTryJoinLater means the target section is not currently
	// accepting joins.
	ErrTryJoinLater = errors.New("join: joins disallowed, try again later")

	// ErrKeygenExhausted is returned by regenerateIdentity when no
	// keypair was found within the attempt budget whose name matches
	// both the target prefix and the requested age encoding.
	ErrKeygenExhausted = errors.New("join: could not find identity matching prefix and age")

	// errRestart is an internal signal (never returned to callers) used
	// by handleResponse to tell Run to reset to Initial and resend to
	// genesis, e.g. when an ApprovalShare's key no longer matches our
	// current target.
	errRestart = errors.New("join: restart")
)
