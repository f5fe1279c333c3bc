package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Low-level format the volume's simulated medium",
	Long: `format erases every block or sector of the simulated device and
writes a fresh format-info/info sector, exactly as init_medium's
low-level-format step does (spec.md section 3).

Because flashctl builds a fresh in-memory device on every invocation,
format only has lasting effect within the same process; chain it with
another subcommand's --format flag to format and then operate in one
run, e.g. "flashctl stat --format".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormat()
	},
}

func init() {
	RootCmd.AddCommand(formatCmd)
}

func runFormat() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := formatOnly(cfg, volumeName); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	fmt.Println("format ok")
	return nil
}
