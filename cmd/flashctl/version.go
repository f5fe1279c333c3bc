package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flashcore/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print flashctl's build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Get())
		return nil
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
