package main

import (
	"flag"
)

// flagSet wraps flag.FlagSet with ContinueOnError behavior, matching the
// teacher's cmd/eth2030 flag scaffolding so callers control error
// handling instead of flag.Parse's default os.Exit.
type flagSet struct {
	*flag.FlagSet
}

// newCustomFlagSet creates a flagSet with ContinueOnError behavior.
func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}
