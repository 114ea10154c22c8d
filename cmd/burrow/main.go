// burrow – the CLI for detachable terminal sessions.
//
// Usage:
//
//	burrow new <name> [-- <shell> [args...]]   – start a detached session
//	burrow attach <name>                       – attach this terminal to it
//	burrow ls                                  – list sessions
//	burrow kill <name>                         – terminate a session
//
// Detach from an attached session with Ctrl-\.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "burrow",
		Short:         "detachable terminal sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newNewCmd(), newAttachCmd(), newLsCmd(), newKillCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "burrow: %v\n", err)
		os.Exit(1)
	}
}
