package main

import (
	"flag"
	"fmt"
	"strconv"
)

// flagSet wraps flag.FlagSet to add support for uint16 flags, which the
// standard library lacks.
type flagSet struct {
	*flag.FlagSet
}

// newCustomFlagSet creates a flagSet with ContinueOnError behavior.
func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}

// Uint16Var defines a uint16 flag using a custom flag.Value.
func (fs *flagSet) Uint16Var(p *uint16, name string, value uint16, usage string) {
	fs.FlagSet.Var(&uint16Value{p: p}, name, usage)
	*p = value
}

type uint16Value struct {
	p *uint16
}

func (v *uint16Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v *uint16Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid uint16 value %q", s)
	}
	*v.p = uint16(n)
	return nil
}
