package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flashcore/internal/diagnostics"
	"flashcore/internal/sector"
)

var statFormat bool

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print device geometry, capacity, and recent diagnostics events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStat()
	},
}

func init() {
	statCmd.Flags().BoolVar(&statFormat, "format", false, "low-level format before mounting")
	RootCmd.AddCommand(statCmd)
}

func runStat() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vol, err := openVolume(cfg, volumeName, statFormat)
	if err != nil {
		return err
	}
	ctx := cmdContext()
	if err := vol.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer vol.Unmount()

	infoAny, err := vol.IOCtl(sector.IOCtlGetDeviceInfo, nil)
	if err != nil {
		return fmt.Errorf("get device info: %w", err)
	}
	info := infoAny.(sector.DeviceInfo)
	capacity := uint64(info.NumLogicalSectors) * uint64(info.BytesPerSector)

	fmt.Printf("volume:            %s\n", vol.Name)
	fmt.Printf("media present:     %t\n", vol.GetStatus())
	fmt.Printf("logical sectors:   %d data, %d total\n", vol.NumLogicalSectors(), info.NumLogicalSectors)
	fmt.Printf("bytes per sector:  %d\n", info.BytesPerSector)
	fmt.Printf("capacity:          %s\n", diagnostics.FormatBytes(capacity))
	fmt.Printf("read only:         %t\n", info.ReadOnly)
	fmt.Printf("free sectors:      %d\n", vol.NumFreeSectors())

	if erases, err := vol.IOCtl(sector.IOCtlGetNumEraseOperations, nil); err == nil {
		fmt.Printf("erase operations:  %d\n", erases.(uint64))
	}
	if clean, err := vol.IOCtl(sector.IOCtlGetCleanCnt, nil); err == nil {
		fmt.Printf("clean count:       %d\n", clean.(uint64))
	}

	eventsAny, err := vol.IOCtl(sector.IOCtlGetStatistics, nil)
	if err != nil {
		return fmt.Errorf("get statistics: %w", err)
	}
	events := eventsAny.([]diagnostics.Event)
	if len(events) == 0 {
		fmt.Println("events:            none recorded")
		return nil
	}
	fmt.Println("recent events:")
	for _, e := range events {
		fmt.Printf("  #%-5d %-20s sector=%-8d extra=%-8d %s\n", e.Seq, e.Kind, e.Sector, e.Extra, e.Message)
	}
	return nil
}
