// Package config loads and validates the on-disk JSON configuration for a
// flashcore instance: the set of volumes to mount, their medium (NAND or
// NOR), device geometry, and the journal/translation-layer policy
// parameters spec.md leaves open (wear-level thresholds, work-block pool
// size, free-sector cache size). It follows the same Default/Load/Validate
// shape as the teacher's server config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Medium identifies the physical flash technology backing a volume.
type Medium string

const (
	MediumNAND Medium = "nand"
	MediumNOR  Medium = "nor"
)

// NANDGeometry describes a simulated or real SLC NAND device's shape.
type NANDGeometry struct {
	NumBlocks     uint32 `json:"num_blocks"`
	PagesPerBlock uint32 `json:"pages_per_block"`
	BytesPerPage  uint32 `json:"bytes_per_page"`
	BytesPerSpare uint32 `json:"bytes_per_spare"`
	LargePage     bool   `json:"large_page"`
}

// NORGeometry describes a simulated or real NOR device's shape.
type NORGeometry struct {
	NumSectors        int    `json:"num_sectors"`
	BytesPerSector    uint32 `json:"bytes_per_sector"`
	LogicalSectorSize uint32 `json:"logical_sector_size"`
}

// JournalProfile controls the write-ahead journal reserved within a
// volume's own logical-sector space (spec.md section 4.1).
type JournalProfile struct {
	Enabled       bool   `json:"enabled"`
	NumReserved   uint32 `json:"num_reserved"`
	TrimSupported bool   `json:"trim_supported"`
}

// FaultProfile configures the simulated physical layer's fault injector,
// used for development and test volumes only (spec.md section 8,
// "Testable properties"); it has no effect when a volume's medium is
// backed by anything other than internal/physical/sim.
type FaultProfile struct {
	Enabled              bool    `json:"enabled"`
	Seed                 int64   `json:"seed"`
	BitFlipRate          float64 `json:"bit_flip_rate"`
	DoubleBitFlipRate    float64 `json:"double_bit_flip_rate"`
	ProgramInterruptRate float64 `json:"program_interrupt_rate"`
	EraseInterruptRate   float64 `json:"erase_interrupt_rate"`
	BadBlockDevelopRate  float64 `json:"bad_block_develop_rate"`
}

// VolumeProfile describes one mountable volume: its medium, geometry,
// journal policy, and translation-layer tuning knobs.
type VolumeProfile struct {
	Name   string `json:"name"`
	Medium Medium `json:"medium"`

	NAND NANDGeometry `json:"nand,omitempty"`
	NOR  NORGeometry  `json:"nor,omitempty"`

	Journal JournalProfile `json:"journal"`
	Fault   FaultProfile   `json:"fault,omitempty"`

	// NumWorkBlocks, WearLevelThreshold, and RelocationCorrectedThreshold
	// tune the NAND translation layer (internal/nandtl.Config); ignored
	// for NOR volumes.
	NumWorkBlocks                uint32 `json:"num_work_blocks,omitempty"`
	WearLevelThreshold            uint32 `json:"wear_level_threshold,omitempty"`
	RelocationCorrectedThreshold  uint32 `json:"relocation_corrected_threshold,omitempty"`

	// FreeCacheSize tunes the NOR translation layer (internal/nortl.Config);
	// ignored for NAND volumes.
	FreeCacheSize int `json:"free_cache_size,omitempty"`
}

// Config is the top-level flashcore configuration.
type Config struct {
	Volumes []VolumeProfile `json:"volumes"`

	// RetryCount is defaulted to 3 by Validate. It is not passed to the
	// translation layers or the journal, and no core operation retries a
	// failed physical I/O call.
	RetryCount int `json:"retry_count"`

	LogRequests bool `json:"log_requests"`
}

// Default returns a single-volume configuration: one simulated NAND
// device sized for quick local experimentation.
func Default() Config {
	return Config{
		RetryCount:  3,
		LogRequests: true,
		Volumes: []VolumeProfile{
			{
				Name:   "default",
				Medium: MediumNAND,
				NAND: NANDGeometry{
					NumBlocks:     256,
					PagesPerBlock: 64,
					BytesPerPage:  2048,
					BytesPerSpare: 64,
					LargePage:     true,
				},
				Journal: JournalProfile{
					Enabled:       true,
					NumReserved:   16,
					TrimSupported: true,
				},
				NumWorkBlocks:                4,
				WearLevelThreshold:            64,
				RelocationCorrectedThreshold:  3,
			},
		},
	}
}

// Load reads and validates a JSON configuration file. An empty path
// returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate fills in zero-valued defaults and rejects configurations that
// can never mount successfully.
func (c *Config) Validate() error {
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if len(c.Volumes) == 0 {
		return fmt.Errorf("config: at least one volume is required")
	}
	seen := map[string]bool{}
	for i := range c.Volumes {
		v := &c.Volumes[i]
		if v.Name == "" {
			return fmt.Errorf("config: volume %d: name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("config: duplicate volume name %q", v.Name)
		}
		seen[v.Name] = true

		if err := v.validate(); err != nil {
			return fmt.Errorf("config: volume %q: %w", v.Name, err)
		}
	}
	return nil
}

func (v *VolumeProfile) validate() error {
	switch v.Medium {
	case MediumNAND:
		if v.NAND.NumBlocks == 0 || v.NAND.PagesPerBlock == 0 || v.NAND.BytesPerPage == 0 {
			return fmt.Errorf("nand geometry must set num_blocks, pages_per_block, bytes_per_page")
		}
		if v.NAND.BytesPerSpare == 0 {
			v.NAND.BytesPerSpare = 64
		}
		if v.NumWorkBlocks == 0 {
			v.NumWorkBlocks = 4
		}
		if v.WearLevelThreshold == 0 {
			v.WearLevelThreshold = 64
		}
		if v.RelocationCorrectedThreshold == 0 {
			v.RelocationCorrectedThreshold = 3
		}
	case MediumNOR:
		if v.NOR.NumSectors == 0 || v.NOR.BytesPerSector == 0 {
			return fmt.Errorf("nor geometry must set num_sectors, bytes_per_sector")
		}
		if v.NOR.LogicalSectorSize == 0 {
			v.NOR.LogicalSectorSize = 512
		}
		if v.FreeCacheSize == 0 {
			v.FreeCacheSize = 16
		}
	default:
		return fmt.Errorf("medium must be %q or %q, got %q", MediumNAND, MediumNOR, v.Medium)
	}
	if v.Journal.Enabled && v.Journal.NumReserved < 4 {
		v.Journal.NumReserved = 16
	}
	return nil
}
