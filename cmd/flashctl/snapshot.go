package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flashcore/internal/physical/sim"
)

var snapshotFormat bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <path>",
	Short: "Format, mount, and atomically write a raw device-state manifest to path",
	Long: `snapshot captures the simulated device's full raw state — every
block/page or physical sector's payload, spare area, and hardware-bad map
— into a single manifest file, written atomically (temp file + rename) so
a crash mid-write never leaves a half-written snapshot. This is purely a
developer inspection aid; flashcore's own format/mount path never reads
it back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSnapshot(args[0])
	},
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotFormat, "format", true, "low-level format before mounting")
	RootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vol, phys, _, err := openVolumeWithDevice(cfg, volumeName, snapshotFormat)
	if err != nil {
		return err
	}
	ctx := cmdContext()
	if err := vol.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer vol.Unmount()

	var snap sim.Snapshot
	switch dev := phys.(type) {
	case *sim.NAND:
		snap = sim.SnapshotNAND(dev)
	case *sim.NOR:
		snap = sim.SnapshotNOR(dev)
	default:
		return fmt.Errorf("snapshot: unsupported device type %T", phys)
	}

	if err := snap.WriteFile(path); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	fmt.Printf("snapshot written to %s (medium=%s)\n", path, snap.Medium)
	return nil
}
