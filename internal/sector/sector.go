// Package sector defines the shared contracts between the journal and the
// two translation layers: the logical-sector TranslationLayer interface
// every upper (file-system) caller programs against (spec.md section 4,
// "Upper (file-system) interface per translation layer"), and the narrow
// physical-layer capability sets each translation layer consumes
// (spec.md section 8, "Polymorphism").
//
// The physical capability sets are intentionally two distinct small
// interfaces rather than one deep hierarchy, exactly as spec.md section 8
// asks for: NOR and NAND devices are programmed completely differently
// (byte-offset read/program vs. paged read/write-with-spare), so a single
// unified physical interface would force one side to fake the other's
// shape.
package sector

import "context"

// IOCtl identifies an out-of-band translation-layer command (spec.md
// section 4, "ioctl(cmd)").
type IOCtl int

const (
	IOCtlGetDeviceInfo IOCtl = iota
	IOCtlGetSectorUsage
	IOCtlGetNumEraseOperations
	IOCtlGetCleanCnt
	IOCtlFormatLowLevel
	IOCtlGetStatistics
	IOCtlSetReadOnly
)

// DeviceInfo summarizes the geometry reported by a mounted translation
// layer (spec.md section 3, "info sector... certifies geometry").
type DeviceInfo struct {
	NumLogicalSectors uint32
	BytesPerSector    uint32
	VersionMajor      uint8
	VersionMinor      uint8
	VersionRevision   uint8
	ReadOnly          bool
}

// TranslationLayer is the uniform logical-sector interface the journal
// (and, above it, the volume) programs against, regardless of whether the
// underlying medium is NAND or NOR (spec.md section 2, "Translation
// layer").
type TranslationLayer interface {
	// Read fills dst with the current contents of the logical sectors
	// starting at sec. len(dst) must be a positive multiple of
	// BytesPerSector; sectors are read in order starting at sec.
	Read(ctx context.Context, sec uint32, dst []byte) error

	// Write programs the logical sectors starting at sec with data.
	// len(data) must be a positive multiple of BytesPerSector.
	// repeatSame is passed through from the caller (journal replay sets it
	// for one-sector entries); the NAND and NOR layers in this module
	// ignore it and program every sector of data.
	Write(ctx context.Context, sec uint32, data []byte, repeatSame bool) error

	// Trim marks the logical sectors in [first, first+count) as no
	// longer holding meaningful data.
	Trim(ctx context.Context, first, count uint32) error

	// IOCtl issues an out-of-band command; arg and the returned value are
	// command-specific.
	IOCtl(cmd IOCtl, arg interface{}) (interface{}, error)

	// Mount prepares the layer for I/O, replaying or validating whatever
	// on-flash state already exists.
	Mount(ctx context.Context) error

	// Unmount releases any scratch buffers allocated at Mount and makes
	// the instance safe to drop.
	Unmount() error

	// NumLogicalSectors reports the sector count fixed at low-level
	// format time.
	NumLogicalSectors() uint32

	// BytesPerSector reports the fixed logical-sector payload size.
	BytesPerSector() uint32
}

// ---------------------------------------------------------------------
// NOR physical capability set
// ---------------------------------------------------------------------

// NORSectorInfo reports static geometry for one physical sector.
type NORSectorInfo struct {
	Offset int64
	Size   uint32
}

// NORPhysical is the capability set the NOR translation layer consumes
// (spec.md section 8): {read_off, program_off, erase_sector,
// get_sector_info, get_num_sectors, is_write_protected}.
type NORPhysical interface {
	ReadOff(off int64, dst []byte) error
	ProgramOff(off int64, data []byte) error
	EraseSector(sectorIndex int) error
	GetSectorInfo(sectorIndex int) (NORSectorInfo, error)
	GetNumSectors() int
	IsWriteProtected() bool
}

// ---------------------------------------------------------------------
// NAND physical capability set
// ---------------------------------------------------------------------

// NANDDeviceInfo reports static geometry for the NAND device as a whole.
type NANDDeviceInfo struct {
	NumBlocks     uint32
	PagesPerBlock uint32
	BytesPerPage  uint32
	BytesPerSpare uint32
	LargePage     bool
}

// NANDPhysical is the capability set the NAND translation layer consumes
// (spec.md section 8): {read_ex, write_ex, erase_block, get_device_info}.
type NANDPhysical interface {
	// ReadEx reads page pageIdx of block block into data (may be nil) and
	// spare (may be nil), either of which the caller may omit.
	ReadEx(block, pageIdx uint32, data, spare []byte) error
	// WriteEx programs page pageIdx of block block with data and spare in
	// one operation, mirroring the combined payload+spare write spec.md
	// section 4.2 describes.
	WriteEx(block, pageIdx uint32, data, spare []byte) error
	EraseBlock(block uint32) error
	GetDeviceInfo() NANDDeviceInfo
	IsWriteProtected() bool
}
