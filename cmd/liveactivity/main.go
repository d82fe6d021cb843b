// Command liveactivity shows a task's progress as a desktop live activity.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	config  string
	backend string
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:           "liveactivity",
		Short:         "Desktop live activity bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "path to config (json or yaml); empty uses defaults")
	root.PersistentFlags().StringVar(&f.backend, "backend", "", "override backend.name (auto|macos|windows|freedesktop|telegram|unsupported)")

	root.AddCommand(newServeCmd(&f))
	root.AddCommand(newDemoCmd(&f))
	root.AddCommand(newCheckConfigCmd(&f))
	root.AddCommand(newHistoryCmd(&f))
	return root
}
