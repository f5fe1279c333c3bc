// Package header decodes and encodes every on-flash layout named in
// spec.md section 6 ("Concrete byte layouts"): the NAND spare areas, the
// NOR physical- and logical-sector headers, the two low-level format-info
// sectors, and the journal's status/info sectors.
//
// Fixed-field sectors (format-info, journal status/info) are plain
// exported structs decoded with go-restruct, the same way the teacher's
// sibling packages decode on-disk layouts (github.com/go-restruct/restruct,
// as used for exFAT's BootSectorHeader in the retrieval pack). The NAND
// spare areas are deliberately NOT restruct structs: spec.md section 8
// calls for "tagged-variant decoders over raw bytes, never a C-style
// bitfield struct" because several fields are packed sub-byte (a nibble
// pair, a single free-flag bit) and the bad-block-marker byte offset moves
// depending on page size. Those are hand-written accessor methods over a
// raw byte slice instead.
package header

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

var byteOrder = binary.BigEndian

// ---------------------------------------------------------------------
// NAND spare area (first-page and work-block-page layouts)
// ---------------------------------------------------------------------

// DataStatus is the NAND data-status nibble (spec.md section 6). The
// values are chosen so that every transition EMPTY -> WORK -> VALID ->
// INVALID only clears bits, never sets one back to 1 — required because a
// NAND program operation can only clear bits (spec.md section 2).
type DataStatus byte

const (
	DataStatusEmpty   DataStatus = 0xF // 1111
	DataStatusWork    DataStatus = 0x7 // 0111
	DataStatusValid   DataStatus = 0x3 // 0011
	DataStatusInvalid DataStatus = 0x1 // 0001
)

func (s DataStatus) String() string {
	switch s {
	case DataStatusEmpty:
		return "empty"
	case DataStatusWork:
		return "work"
	case DataStatusValid:
		return "valid"
	case DataStatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// NANDSpareSize is the size, in bytes, of one page's spare area as laid
// out by this driver (large enough to hold four 3-byte ECC sub-blocks
// plus the header fields of spec.md section 6).
const NANDSpareSize = 32

// NumECCSubBlocks is the number of 256-byte ECC sub-blocks covered by one
// spare area (a 1024-byte page split into four 256-byte sub-blocks).
const NumECCSubBlocks = 4

var eccSubBlockOffset = [NumECCSubBlocks]int{0x08, 0x0D, 0x18, 0x1D}

// NANDSpare wraps the raw bytes of one page's spare area. Its accessors
// implement the bitfield decode spec.md section 6/8 describes; callers
// never index Raw directly.
type NANDSpare struct {
	Raw [NANDSpareSize]byte
	// LargePage selects the bad-block-marker byte offset: byte 5 for
	// small-page (512B) devices, byte 0 for large-page (2K+) devices.
	LargePage bool
}

// BBMOffset returns the byte offset of the bad-block marker for this
// spare's page-size mode.
func (s *NANDSpare) BBMOffset() int {
	if s.LargePage {
		return 0
	}
	return 5
}

// IsBadBlockMarked reports whether the bad-block-marker byte has been
// cleared from its erased (0xFF) value.
func (s *NANDSpare) IsBadBlockMarked() bool {
	return s.Raw[s.BBMOffset()] != 0xFF
}

// MarkBadBlock clears the bad-block-marker byte.
func (s *NANDSpare) MarkBadBlock() {
	s.Raw[s.BBMOffset()] = 0x00
}

// DataStatus returns the data-status nibble at byte 1 (high nibble).
func (s *NANDSpare) DataStatus() DataStatus {
	return DataStatus(s.Raw[1] >> 4)
}

// SetDataStatus writes the data-status nibble, preserving the data-count
// nibble.
func (s *NANDSpare) SetDataStatus(v DataStatus) {
	s.Raw[1] = (byte(v) << 4) | (s.Raw[1] & 0x0F)
}

// DataCount returns the data-count nibble at byte 1 (low nibble).
func (s *NANDSpare) DataCount() byte {
	return s.Raw[1] & 0x0F
}

// SetDataCount writes the data-count nibble, preserving data-status.
func (s *NANDSpare) SetDataCount(v byte) {
	s.Raw[1] = (s.Raw[1] & 0xF0) | (v & 0x0F)
}

// EraseCount returns the 32-bit erase count at bytes 2..5.
func (s *NANDSpare) EraseCount() uint32 {
	return byteOrder.Uint32(s.Raw[2:6])
}

// SetEraseCount writes the 32-bit erase count at bytes 2..5.
func (s *NANDSpare) SetEraseCount(v uint32) {
	byteOrder.PutUint32(s.Raw[2:6], v)
}

// LBI returns the logical-block index from the primary copy at bytes
// 6..7; consistent reports whether it matches the redundant copy at bytes
// 0x11..0x12. The redundant copy is never returned in its place (spec.md
// section 6, "LBI in two redundant copies").
func (s *NANDSpare) LBI() (lbi uint16, consistent bool) {
	primary := byteOrder.Uint16(s.Raw[6:8])
	secondary := byteOrder.Uint16(s.Raw[0x11:0x13])
	if primary == secondary {
		return primary, true
	}
	return primary, false
}

// SetLBI writes both redundant copies of the logical-block index.
func (s *NANDSpare) SetLBI(lbi uint16) {
	byteOrder.PutUint16(s.Raw[6:8], lbi)
	byteOrder.PutUint16(s.Raw[0x11:0x13], lbi)
}

// BRSI returns the block-relative-sector-index for a work-block page,
// stored inverted at bytes 6..7 with a redundant inverted copy at
// bytes 0xB..0xC.
func (s *NANDSpare) BRSI() (brsi uint16, consistent bool) {
	primary := ^byteOrder.Uint16(s.Raw[6:8])
	secondary := ^byteOrder.Uint16(s.Raw[0xB:0xD])
	if primary == secondary {
		return primary, true
	}
	return primary, false
}

// SetBRSI writes both redundant inverted copies of the BRSI.
func (s *NANDSpare) SetBRSI(brsi uint16) {
	byteOrder.PutUint16(s.Raw[6:8], ^brsi)
	byteOrder.PutUint16(s.Raw[0xB:0xD], ^brsi)
}

// IsSectorFree reports the per-sector "is free" indicator used by
// work-block pages (byte 1, distinct meaning from the first-page
// data-status nibble).
func (s *NANDSpare) IsSectorFree() bool {
	return s.Raw[1] == 0xFF
}

// SetSectorFree clears or sets the per-sector free indicator.
func (s *NANDSpare) SetSectorFree(free bool) {
	if free {
		s.Raw[1] = 0xFF
	} else {
		s.Raw[1] = 0x00
	}
}

// IsBRSIZeroFree reports the dedicated flag (byte 2) marking whether
// BRSI 0 of a work block is still free.
func (s *NANDSpare) IsBRSIZeroFree() bool {
	return s.Raw[2] == 0xFF
}

// SetBRSIZeroFree sets or clears the BRSI-0 free flag.
func (s *NANDSpare) SetBRSIZeroFree(free bool) {
	if free {
		s.Raw[2] = 0xFF
	} else {
		s.Raw[2] = 0x00
	}
}

// ECC returns the i'th 3-byte ECC sub-block (i in [0, NumECCSubBlocks)).
func (s *NANDSpare) ECC(i int) [3]byte {
	off := eccSubBlockOffset[i]
	var out [3]byte
	copy(out[:], s.Raw[off:off+3])
	return out
}

// SetECC writes the i'th 3-byte ECC sub-block.
func (s *NANDSpare) SetECC(i int, ecc [3]byte) {
	off := eccSubBlockOffset[i]
	copy(s.Raw[off:off+3], ecc[:])
}

// BadBlockErrorType enumerates the second/third-page-spare error classes
// recorded when a block is driver-marked bad (spec.md section 4, "Bad-
// block marking").
type BadBlockErrorType byte

const (
	BadBlockErrorErase BadBlockErrorType = iota + 1
	BadBlockErrorWrite
	BadBlockErrorECC
)

func (t BadBlockErrorType) String() string {
	switch t {
	case BadBlockErrorErase:
		return "erase"
	case BadBlockErrorWrite:
		return "write"
	case BadBlockErrorECC:
		return "ecc"
	default:
		return "unknown"
	}
}

// badBlockSignature is written to the second spare area of a
// driver-marked bad block, distinguishing it from a manufacturer mark.
var badBlockSignature = [6]byte{'S', 'E', 'G', 'G', 'E', 'R'}

// BadBlockSignature returns the driver bad-block signature bytes.
func BadBlockSignature() [6]byte { return badBlockSignature }

// ---------------------------------------------------------------------
// NOR physical-sector header (PSH)
// ---------------------------------------------------------------------

// NORSignature distinguishes the legacy pre-data_status PSH layout from
// the current one (spec.md section 6).
type NORSignature byte

const (
	NORSignatureLegacy  NORSignature = 0x50
	NORSignatureCurrent NORSignature = 0x51
)

// NORSectorType is the physical-sector role recorded in its PSH. Like
// DataStatus, the values progressively clear bits on a rewrite-capable
// device (spec.md section 4.3, "a single-byte type field is progressively
// cleared EMPTY -> WORK -> DATA -> INVALID").
type NORSectorType byte

const (
	NORSectorEmpty   NORSectorType = 0xF
	NORSectorWork    NORSectorType = 0x7
	NORSectorData    NORSectorType = 0x3
	NORSectorInvalid NORSectorType = 0x1
)

// NORPhysicalSectorHeader is the fixed-size preamble of every NOR
// physical sector.
type NORPhysicalSectorHeader struct {
	Signature       uint8
	FormatVersion   uint8
	FailSafeErase   uint8 // inverted: 0xFF = unsupported, 0x00 = supported
	Type            uint8
	EraseCount      uint32
	EraseSignature  [4]byte // "ERSD" once the erase completed, else zero
}

// MarshalBinary encodes h using the big-endian layout spec.md section 6
// specifies for the NOR PSH.
func (h *NORPhysicalSectorHeader) MarshalBinary() ([]byte, error) {
	return restruct.Pack(byteOrder, h)
}

// UnmarshalBinary decodes h from raw PSH bytes.
func (h *NORPhysicalSectorHeader) UnmarshalBinary(data []byte) error {
	return restruct.Unpack(data, byteOrder, h)
}

// SupportsFailSafeErase reports whether this sector advertises fail-safe
// two-phase erase (spec.md section 4, "Physical-sector header write
// order on erase").
func (h *NORPhysicalSectorHeader) SupportsFailSafeErase() bool {
	return h.FailSafeErase == 0x00
}

// EraseCompleted reports whether the erase-completion marker has been
// written.
func (h *NORPhysicalSectorHeader) EraseCompleted() bool {
	return h.EraseSignature == [4]byte{'E', 'R', 'S', 'D'}
}

// ---------------------------------------------------------------------
// NOR logical-sector header (LSH)
// ---------------------------------------------------------------------

// NORDataStatus is the LSH data-status byte.
type NORDataStatus byte

const (
	NORDataStatusInvalid NORDataStatus = 0xFF
	NORDataStatusValid   NORDataStatus = 0xFE
	NORDataStatusErasable NORDataStatus = 0x00
)

// NORLogicalSectorHeader is the preamble of every logical-sector slot
// inside a NOR data/work sector.
type NORLogicalSectorHeader struct {
	ID         uint32
	DataStatus uint8
}

func (h *NORLogicalSectorHeader) MarshalBinary() ([]byte, error) {
	return restruct.Pack(byteOrder, h)
}

func (h *NORLogicalSectorHeader) UnmarshalBinary(data []byte) error {
	return restruct.Unpack(data, byteOrder, h)
}

// ---------------------------------------------------------------------
// Low-level format-info sectors
// ---------------------------------------------------------------------

// FormatInfo is the info sector written as the first logical sector of a
// data sector on format (spec.md section 4, "Low-level format"); it is
// shared in shape by both translation layers, which is why it lives here
// rather than in nandtl/nortl.
type FormatInfo struct {
	Signature       [8]byte
	VersionMajor    uint8
	VersionMinor    uint8
	VersionRevision uint8
	_               uint8 // padding
	LogicalSectorCnt uint32
	LogicalSectorSize uint32
	ErrorState      uint8
	_               [3]byte // padding
}

func (f *FormatInfo) MarshalBinary() ([]byte, error) {
	return restruct.Pack(byteOrder, f)
}

func (f *FormatInfo) UnmarshalBinary(data []byte) error {
	return restruct.Unpack(data, byteOrder, f)
}

// ---------------------------------------------------------------------
// Journal status / info sectors
// ---------------------------------------------------------------------

// JournalStatus mirrors emFile's JOURNAL_STATUS (FS_Journal.c): the
// fields persisted to the journal's status sector, written last on
// commit and cleared first on replay-completion (the journal's sole
// atomicity mechanism, spec.md section 3).
type JournalStatus struct {
	NumSectorsData   uint32
	BytesPerSector   uint32
	PBIInfoSector    uint32
	PBIStatusSector  uint32
	PBIStartSectorList uint32
	PBIFirstDataSector uint32
	SectorCnt        uint32
	SectorCntTotal   uint32
	OpenCnt          uint16
	Error            int16
	IsPresent        uint8
	IsFreeSectorSupported uint8
}

func (s *JournalStatus) MarshalBinary() ([]byte, error) {
	return restruct.Pack(byteOrder, s)
}

func (s *JournalStatus) UnmarshalBinary(data []byte) error {
	return restruct.Unpack(data, byteOrder, s)
}

// JournalInfo is the journal's info sector: the last sector of the
// journal file, whose contents never change once the journal is created
// (spec.md section 3, "PBIInfoSector").
type JournalInfo struct {
	Signature      [8]byte
	VersionMajor   uint8
	VersionMinor   uint8
	_              [2]byte // padding
	NumSectorsData uint32
	BytesPerSector uint32
}

func (j *JournalInfo) MarshalBinary() ([]byte, error) {
	return restruct.Pack(byteOrder, j)
}

func (j *JournalInfo) UnmarshalBinary(data []byte) error {
	return restruct.Unpack(data, byteOrder, j)
}

// JournalEntry is one 16-byte copy-list entry (spec.md section 3,
// "Copy-list sectors: array of 16-byte entries
// {sector_index, trim_flag, run_length}").
type JournalEntry struct {
	SectorIndex uint32
	TrimFlag    uint8
	_           [3]byte
	RunLength   uint32
	_           [4]byte
}

// JournalEntrySize is the on-flash size of one JournalEntry.
const JournalEntrySize = 16

func (e *JournalEntry) MarshalBinary() ([]byte, error) {
	return restruct.Pack(byteOrder, e)
}

func (e *JournalEntry) UnmarshalBinary(data []byte) error {
	return restruct.Unpack(data, byteOrder, e)
}
