package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	rwFormat    bool
	writeHex    string
	writeFill   string
	writeRepeat bool
)

var readCmd = &cobra.Command{
	Use:   "read <sector> <count>",
	Short: "Read count logical sectors starting at sector and print them as hex",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRead(args[0], args[1])
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <sector>",
	Short: "Write one logical sector from --data (hex) or --fill (a repeated byte)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWrite(args[0])
	},
}

var trimCmd = &cobra.Command{
	Use:   "trim <sector> <count>",
	Short: "Mark count logical sectors starting at sector as no longer meaningful",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrim(args[0], args[1])
	},
}

func init() {
	for _, c := range []*cobra.Command{readCmd, writeCmd, trimCmd} {
		c.Flags().BoolVar(&rwFormat, "format", false, "low-level format before mounting")
	}
	writeCmd.Flags().StringVar(&writeHex, "data", "", "hex-encoded sector payload (must be exactly one sector's worth of bytes)")
	writeCmd.Flags().StringVar(&writeFill, "fill", "", "single hex byte to repeat across the sector, e.g. --fill=AA")
	writeCmd.Flags().BoolVar(&writeRepeat, "repeat-same", false, "pass repeatSame to the translation layer's Write (the NAND and NOR layers ignore it)")
	RootCmd.AddCommand(readCmd, writeCmd, trimCmd)
}

func runRead(secArg, countArg string) error {
	sec, count, err := parseSectorRange(secArg, countArg)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vol, err := openVolume(cfg, volumeName, rwFormat)
	if err != nil {
		return err
	}
	ctx := cmdContext()
	if err := vol.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer vol.Unmount()

	buf := make([]byte, uint32(count)*vol.BytesPerSector())
	if err := vol.Read(ctx, sec, buf); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		off := i * vol.BytesPerSector()
		fmt.Printf("sector %d: %s\n", sec+i, hex.EncodeToString(buf[off:off+vol.BytesPerSector()]))
	}
	return nil
}

func runWrite(secArg string) error {
	sec, err := parseSector(secArg)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vol, err := openVolume(cfg, volumeName, rwFormat)
	if err != nil {
		return err
	}
	ctx := cmdContext()
	if err := vol.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer vol.Unmount()

	payload, err := writePayload(vol.BytesPerSector())
	if err != nil {
		return err
	}
	if err := vol.Write(ctx, sec, payload, writeRepeat); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	fmt.Printf("wrote sector %d (%d bytes)\n", sec, len(payload))
	return nil
}

func runTrim(secArg, countArg string) error {
	sec, count, err := parseSectorRange(secArg, countArg)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vol, err := openVolume(cfg, volumeName, rwFormat)
	if err != nil {
		return err
	}
	ctx := cmdContext()
	if err := vol.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer vol.Unmount()

	if err := vol.Trim(ctx, sec, count); err != nil {
		return fmt.Errorf("trim: %w", err)
	}
	fmt.Printf("trimmed sectors [%d, %d)\n", sec, sec+count)
	return nil
}

func writePayload(bytesPerSector uint32) ([]byte, error) {
	switch {
	case writeHex != "":
		data, err := hex.DecodeString(writeHex)
		if err != nil {
			return nil, fmt.Errorf("--data: %w", err)
		}
		if uint32(len(data)) != bytesPerSector {
			return nil, fmt.Errorf("--data: got %d bytes, sector size is %d", len(data), bytesPerSector)
		}
		return data, nil
	case writeFill != "":
		b, err := hex.DecodeString(writeFill)
		if err != nil || len(b) != 1 {
			return nil, fmt.Errorf("--fill: want exactly one hex byte, e.g. AA")
		}
		payload := make([]byte, bytesPerSector)
		for i := range payload {
			payload[i] = b[0]
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("one of --data or --fill is required")
	}
}

func parseSector(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid sector %q: %w", s, err)
	}
	return uint32(n), nil
}

func parseSectorRange(secArg, countArg string) (sec, count uint32, err error) {
	sec, err = parseSector(secArg)
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.ParseUint(countArg, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid count %q: %w", countArg, err)
	}
	return sec, uint32(n), nil
}
