package main

import (
	"fmt"

	"flashcore/internal/config"
	"flashcore/internal/nandtl"
	"flashcore/internal/nortl"
	"flashcore/internal/physical/sim"
	"flashcore/internal/sector"
	"flashcore/internal/volume"
)

// openVolume resolves the named profile from cfg (or the sole profile if
// name is empty), builds the simulated physical device its geometry
// describes, binds the matching translation layer, optionally low-level
// formats it in place, and wraps it in an unmounted volume.Volume.
// cmd/flashctl only ever drives the sim backend: a real NAND/NOR physical
// layer is out of scope for this tool (spec.md section 6 describes the
// volume interface, not a specific physical transport).
//
// Because each invocation of flashctl builds a fresh in-memory device,
// doFormat is the only way a data subcommand sees a formatted medium
// within a single run — format and the subsequent mount must share the
// same underlying phys instance.
func openVolume(cfg config.Config, name string, doFormat bool) (*volume.Volume, error) {
	vol, _, _, err := openVolumeWithDevice(cfg, name, doFormat)
	return vol, err
}

// openVolumeWithFault is openVolume plus access to the constructed
// device's fault injector, for the "inject-fault" subcommand, which needs
// to adjust rates or read Stats after driving some I/O. fault is nil when
// the resolved profile has fault injection disabled.
func openVolumeWithFault(cfg config.Config, name string, doFormat bool) (*volume.Volume, *sim.Fault, error) {
	vol, _, fault, err := openVolumeWithDevice(cfg, name, doFormat)
	return vol, fault, err
}

// openVolumeWithDevice is openVolume plus access to the constructed
// physical device itself (a *sim.NAND or *sim.NOR), for the "snapshot"
// subcommand, which needs to serialize the device's raw state after
// driving some I/O against it.
func openVolumeWithDevice(cfg config.Config, name string, doFormat bool) (*volume.Volume, interface{}, *sim.Fault, error) {
	prof, err := findProfile(cfg, name)
	if err != nil {
		return nil, nil, nil, err
	}

	var tl sector.TranslationLayer
	var phys interface{}
	var fault *sim.Fault
	switch prof.Medium {
	case config.MediumNAND:
		fault = faultFor(prof)
		dev := sim.NewNAND(sector.NANDDeviceInfo{
			NumBlocks:     prof.NAND.NumBlocks,
			PagesPerBlock: prof.NAND.PagesPerBlock,
			BytesPerPage:  prof.NAND.BytesPerPage,
			BytesPerSpare: prof.NAND.BytesPerSpare,
			LargePage:     prof.NAND.LargePage,
		}, fault)
		phys = dev
		tlCfg := nandtl.Config{
			NumWorkBlocks:                prof.NumWorkBlocks,
			WearLevelThreshold:           prof.WearLevelThreshold,
			RelocationCorrectedThreshold: prof.RelocationCorrectedThreshold,
		}
		if doFormat {
			if err := nandtl.FormatLowLevel(cmdContext(), dev, tlCfg); err != nil {
				return nil, nil, nil, fmt.Errorf("format: %w", err)
			}
		}
		tl = nandtl.New(dev, tlCfg)
	case config.MediumNOR:
		fault = faultFor(prof)
		dev := sim.NewNOR(prof.NOR.NumSectors, prof.NOR.BytesPerSector, fault)
		phys = dev
		if doFormat {
			if err := nortl.FormatLowLevel(cmdContext(), dev, prof.NOR.LogicalSectorSize); err != nil {
				return nil, nil, nil, fmt.Errorf("format: %w", err)
			}
		}
		tl = nortl.New(dev, nortl.Config{
			FreeCacheSize: prof.FreeCacheSize,
		})
	default:
		return nil, nil, nil, fmt.Errorf("unknown medium %q", prof.Medium)
	}

	vol := volume.New(prof.Name, tl, volume.Options{
		Journaled:     prof.Journal.Enabled,
		NumReserved:   prof.Journal.NumReserved,
		TrimSupported: prof.Journal.TrimSupported,
	})
	return vol, phys, fault, nil
}

func findProfile(cfg config.Config, name string) (config.VolumeProfile, error) {
	if name == "" {
		if len(cfg.Volumes) == 1 {
			return cfg.Volumes[0], nil
		}
		return config.VolumeProfile{}, fmt.Errorf("multiple volumes configured; pass --volume")
	}
	for _, v := range cfg.Volumes {
		if v.Name == name {
			return v, nil
		}
	}
	return config.VolumeProfile{}, fmt.Errorf("no volume named %q", name)
}

func faultFor(prof config.VolumeProfile) *sim.Fault {
	if !prof.Fault.Enabled {
		return nil
	}
	f := sim.NewFault(prof.Fault.Seed, sim.FaultConfig{
		BitFlipRate:          prof.Fault.BitFlipRate,
		DoubleBitFlipRate:    prof.Fault.DoubleBitFlipRate,
		ProgramInterruptRate: prof.Fault.ProgramInterruptRate,
		EraseInterruptRate:   prof.Fault.EraseInterruptRate,
		BadBlockDevelopRate:  prof.Fault.BadBlockDevelopRate,
	})
	f.SetMode(sim.ModeActive)
	return f
}

// formatOnly low-level-formats a throwaway device of the named profile's
// geometry, for the standalone "format" subcommand that only demonstrates
// the operation succeeds (spec.md section 3's low-level-format step).
func formatOnly(cfg config.Config, name string) error {
	_, err := openVolume(cfg, name, true)
	return err
}
