// Command flashctl drives a flashcore volume from the command line: format
// its simulated physical medium, mount it, read and write logical
// sectors, and inspect its diagnostics hub. It exists to exercise
// spec.md section 6's volume interface end to end, the way the teacher's
// own cmd/w64tool exercises its W64F protocol.
//
// Every run constructs a fresh in-memory simulated device from the
// configuration file (or the built-in default profile), so format and
// mount only persist across subcommands within the same invocation — use
// --format on a data subcommand to format-then-mount in one shot.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flashcore/internal/config"
)

var (
	cfgPath    string
	volumeName string
)

// RootCmd is the flashctl entry point, following the structure
// _examples/zellyn-diskii/cmd/root.go uses for its own disk-image CLI.
var RootCmd = &cobra.Command{
	Use:   "flashctl",
	Short: "Inspect and drive a flashcore volume",
	Long: `flashctl formats, mounts, and drives a simulated flashcore volume
(NAND or NOR translation layer, optionally journaled) from the command
line, for local experimentation and scripted testing.`,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a JSON volume configuration (default: built-in single-volume profile)")
	RootCmd.PersistentFlags().StringVar(&volumeName, "volume", "", "volume name to operate on (required only when the config defines more than one)")
}

// Execute runs the command tree, printing any error and exiting non-zero.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgPath)
}

// cmdContext is the single context.Context flashctl's one-shot commands
// run under; there is no long-lived server to wire a signal-driven
// cancellation into here, unlike the teacher's HTTP server.
func cmdContext() context.Context {
	return context.Background()
}
