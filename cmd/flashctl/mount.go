package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mountFormat bool

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the volume and confirm it comes up clean",
	Long: `mount exercises init_medium (spec.md section 6): format (if --format
is given), mount the translation layer, and — if the volume is journaled —
mount or create its journal. It reports only whether the volume came up,
not its full status; use "stat" for geometry and diagnostics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount()
	},
}

func init() {
	mountCmd.Flags().BoolVar(&mountFormat, "format", false, "low-level format before mounting")
	RootCmd.AddCommand(mountCmd)
}

func runMount() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vol, err := openVolume(cfg, volumeName, mountFormat)
	if err != nil {
		return err
	}
	if err := vol.Mount(cmdContext()); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer vol.Unmount()

	fmt.Printf("volume %q mounted: %d logical sectors, media present=%t\n",
		vol.Name, vol.NumLogicalSectors(), vol.GetStatus())
	return nil
}
