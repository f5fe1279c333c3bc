// Package nortl implements the NOR translation layer of spec.md section
// 4.3: a flat array of fixed-size logical sectors over NOR flash, using
// physical-sector roles (work/data/invalid), an L2P bitfield, and
// copy-based garbage collection for wear leveling and atomic per-sector
// update.
//
// It is grounded on emFile's FS_NOR_Drv.c: the work/data/invalid
// physical-sector role machine, the logical-sector-header state machine
// (blank/current/info/stale), and the fail-safe two-phase erase protocol.
// Only the rewrite-capable header encoding is implemented — see
// DESIGN.md for why the write-once dual-field variant was left out of
// this translation layer.
package nortl

import (
	"context"

	"flashcore/internal/diagnostics"
	"flashcore/internal/errs"
	"flashcore/internal/header"
	"flashcore/internal/sector"
)

var formatSignature = [8]byte{'F', 'L', 'N', 'O', 'R', 'F', 'I', ' '}

const (
	eraseSignatureMarker = uint32(0xE2A5E2A5) // "invalidated" sentinel, cleared by erase
	pshPackedSize        = 12                 // Signature,FormatVersion,FailSafeErase,Type,EraseCount(4),EraseSignature(4)
	lshPackedSize        = 5                  // ID(4) + DataStatus(1)
)

// Config bounds the policies left open by spec.md section 4.3.
type Config struct {
	// FreeCacheSize is the capacity of the free-sector-slot ring.
	FreeCacheSize int
	// WearLevelThreshold is the erase-count gap, per erase-unit size,
	// that triggers active wear leveling after a destructive operation.
	WearLevelThreshold uint32
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{FreeCacheSize: 16, WearLevelThreshold: 128}
}

type freeSlot struct {
	physSector int
	offset     int64
}

// TL is a NOR translation layer instance bound to one sector.NORPhysical.
type TL struct {
	phys sector.NORPhysical
	cfg  Config
	hub  *diagnostics.Hub

	bytesPerLogicalSector uint32
	numLogicalSectors     uint32

	l2p []int64 // logical index -> absolute LSH offset, 0 = none

	role        []header.NORSectorType
	eraseCount  []uint32
	legacy      []bool
	failSafe    bool // whether any sector advertises fail-safe erase support
	workBySize  map[uint32]int // erase-unit size -> physical sector index serving as WORK

	freeCache []freeSlot

	readOnly bool
	mounted  bool
}

// New constructs an unmounted instance over phys.
func New(phys sector.NORPhysical, cfg Config) *TL {
	return &TL{phys: phys, cfg: cfg, hub: diagnostics.NewHub(0), workBySize: map[uint32]int{}}
}

// Diagnostics exposes the event hub for this instance.
func (t *TL) Diagnostics() *diagnostics.Hub { return t.hub }

// NumLogicalSectors implements sector.TranslationLayer.
func (t *TL) NumLogicalSectors() uint32 { return t.numLogicalSectors }

// BytesPerSector implements sector.TranslationLayer.
func (t *TL) BytesPerSector() uint32 { return t.bytesPerLogicalSector }

func slotsPerSector(physSize uint32, logicalSize uint32) uint32 {
	usable := int64(physSize) - pshPackedSize
	if usable <= 0 {
		return 0
	}
	return uint32(usable) / (lshPackedSize + logicalSize)
}

// ---------------------------------------------------------------------
// Format / mount
// ---------------------------------------------------------------------

// FormatLowLevel erases every physical sector, binds exactly one sector
// of each distinct erase-unit size as WORK, the rest as DATA, and writes
// the info sector as the first logical slot of the first DATA sector
// (spec.md section 4.3, "Low-level format").
func FormatLowLevel(ctx context.Context, phys sector.NORPhysical, logicalSectorSize uint32) error {
	n := phys.GetNumSectors()
	sizesSeen := map[uint32]bool{}
	total := uint32(0)
	infoIdx := -1
	for i := 0; i < n; i++ {
		info, err := phys.GetSectorInfo(i)
		if err != nil {
			return errs.Wrap("nortl.format", errs.KindIO, err)
		}
		if err := phys.EraseSector(i); err != nil {
			continue // counted as bad: left unbound, skipped below
		}
		role := header.NORSectorData
		if !sizesSeen[info.Size] {
			role = header.NORSectorWork
			sizesSeen[info.Size] = true
		} else {
			total += slotsPerSector(info.Size, logicalSectorSize)
			if infoIdx < 0 {
				infoIdx = i
			}
		}
		psh := header.NORPhysicalSectorHeader{
			Signature:      uint8(header.NORSignatureCurrent),
			FormatVersion:  1,
			FailSafeErase:  0x00, // this driver always supports fail-safe two-phase erase
			Type:           uint8(role),
			EraseCount:     1,
			EraseSignature: [4]byte{'E', 'R', 'S', 'D'},
		}
		buf, err := psh.MarshalBinary()
		if err != nil {
			return errs.Wrap("nortl.format", errs.KindCorruption, err)
		}
		if err := phys.ProgramOff(info.Offset, buf); err != nil {
			return errs.Wrap("nortl.format", errs.KindIO, err)
		}
	}

	fi := header.FormatInfo{
		Signature:         formatSignature,
		VersionMajor:      1,
		LogicalSectorCnt:  total,
		LogicalSectorSize: logicalSectorSize,
	}
	fiBuf, err := fi.MarshalBinary()
	if err != nil {
		return errs.Wrap("nortl.format", errs.KindCorruption, err)
	}
	lsh := header.NORLogicalSectorHeader{ID: logSectorIDInfo, DataStatus: uint8(header.NORDataStatusValid)}
	lshBuf, err := lsh.MarshalBinary()
	if err != nil {
		return errs.Wrap("nortl.format", errs.KindCorruption, err)
	}
	if infoIdx < 0 {
		return errs.New("nortl.format", errs.KindOutOfSpace, "no data sector to hold the info sector")
	}
	info0, _ := phys.GetSectorInfo(infoIdx)
	if err := phys.ProgramOff(info0.Offset+pshPackedSize, lshBuf); err != nil {
		return errs.Wrap("nortl.format", errs.KindIO, err)
	}
	if err := phys.ProgramOff(info0.Offset+pshPackedSize+lshPackedSize, fiBuf); err != nil {
		return errs.Wrap("nortl.format", errs.KindIO, err)
	}
	return nil
}

// logSectorIDInfo is the reserved logical-sector ID carrying the info
// sector payload (spec.md section 4, "LOG_SECTOR_ID_INFO").
const logSectorIDInfo = 0xFFFFFFFE

// Mount implements sector.TranslationLayer (spec.md section 4.3, "Low-level
// mount"): surveys every physical sector's header, classifies it, walks
// every slot of each DATA sector into L2P, and binds one WORK sector per
// distinct erase-unit size.
func (t *TL) Mount(ctx context.Context) error {
	n := t.phys.GetNumSectors()
	t.role = make([]header.NORSectorType, n)
	t.eraseCount = make([]uint32, n)
	t.legacy = make([]bool, n)
	t.workBySize = map[uint32]int{}
	t.freeCache = nil
	t.l2p = nil

	var foundInfo bool
	var fi header.FormatInfo

	for i := 0; i < n; i++ {
		sinfo, err := t.phys.GetSectorInfo(i)
		if err != nil {
			continue
		}
		pshBuf := make([]byte, pshPackedSize)
		if err := t.phys.ReadOff(sinfo.Offset, pshBuf); err != nil {
			continue
		}
		var psh header.NORPhysicalSectorHeader
		if err := psh.UnmarshalBinary(pshBuf); err != nil {
			continue
		}
		if psh.SupportsFailSafeErase() {
			t.failSafe = true
		}
		if psh.SupportsFailSafeErase() && !psh.EraseCompleted() {
			if err := t.reerase(ctx, i, sinfo); err != nil {
				continue
			}
			psh.Type = uint8(header.NORSectorInvalid)
		}
		t.legacy[i] = header.NORSignature(psh.Signature) == header.NORSignatureLegacy
		t.eraseCount[i] = psh.EraseCount
		t.role[i] = header.NORSectorType(psh.Type)

		switch t.role[i] {
		case header.NORSectorWork:
			if _, bound := t.workBySize[sinfo.Size]; !bound {
				t.workBySize[sinfo.Size] = i
			}
		case header.NORSectorData:
			fnd, err := t.walkDataSector(ctx, i, sinfo, &fi)
			if err != nil {
				return err
			}
			if fnd {
				foundInfo = true
			}
		}
	}

	if !foundInfo {
		return errs.New("nortl.mount", errs.KindNotFormatted, "no valid info sector found")
	}
	if fi.Signature != formatSignature {
		return errs.New("nortl.mount", errs.KindNotFormatted, "nor format signature mismatch")
	}
	if len(t.workBySize) == 0 {
		return errs.New("nortl.mount", errs.KindNotFormatted, "no work sector bound for any erase-unit size")
	}

	t.bytesPerLogicalSector = fi.LogicalSectorSize
	t.numLogicalSectors = fi.LogicalSectorCnt
	t.readOnly = fi.ErrorState != 0
	for uint32(len(t.l2p)) < t.numLogicalSectors {
		t.l2p = append(t.l2p, 0)
	}
	t.mounted = true
	t.hub.Record(diagnostics.KindMount, 0, uint32(n), "nortl mounted")
	return nil
}

// Unmount implements sector.TranslationLayer.
func (t *TL) Unmount() error {
	t.mounted = false
	return nil
}

// walkDataSector classifies every logical slot of physical sector i,
// installs VALID slots into L2P (resolving collisions by invalidating the
// loser), opportunistically seeds the free-sector cache with blank slots,
// and reports whether the reserved info-sector ID was found.
func (t *TL) walkDataSector(ctx context.Context, i int, sinfo sector.NORSectorInfo, fi *header.FormatInfo) (bool, error) {
	slotSize := lshPackedSize + int(t.bytesPerLogicalSlotSizeHint())
	if slotSize <= lshPackedSize {
		slotSize = lshPackedSize + 512 // pre-Mount bootstrap: unknown size yet, corrected on next pass
	}
	foundInfo := false
	off := sinfo.Offset + pshPackedSize
	end := sinfo.Offset + int64(sinfo.Size)
	for off+int64(slotSize) <= end {
		lshBuf := make([]byte, lshPackedSize)
		if err := t.phys.ReadOff(off, lshBuf); err != nil {
			break
		}
		var lsh header.NORLogicalSectorHeader
		if err := lsh.UnmarshalBinary(lshBuf); err == nil {
			switch {
			case lsh.ID == 0xFFFFFFFF && header.NORDataStatus(lsh.DataStatus) == header.NORDataStatusInvalid:
				if len(t.freeCache) < t.cfg.FreeCacheSize {
					t.freeCache = append(t.freeCache, freeSlot{physSector: i, offset: off})
				}
			case lsh.ID == logSectorIDInfo && header.NORDataStatus(lsh.DataStatus) == header.NORDataStatusValid:
				payload := make([]byte, fiPayloadSize())
				if err := t.phys.ReadOff(off+lshPackedSize, payload); err == nil {
					if err := fi.UnmarshalBinary(payload); err == nil {
						foundInfo = true
						t.bytesPerLogicalSector = fi.LogicalSectorSize
						slotSize = lshPackedSize + int(fi.LogicalSectorSize)
					}
				}
			case header.NORDataStatus(lsh.DataStatus) == header.NORDataStatusValid:
				abs := off
				if existing := t.l2pGet(lsh.ID); existing != 0 {
					t.preferNewerAndInvalidate(ctx, lsh.ID, existing, abs)
				} else {
					t.l2pSet(lsh.ID, abs)
				}
			}
		}
		off += int64(slotSize)
	}
	return foundInfo, nil
}

func fiPayloadSize() int { return 24 }

func (t *TL) bytesPerLogicalSlotSizeHint() uint32 {
	if t.bytesPerLogicalSector != 0 {
		return t.bytesPerLogicalSector
	}
	return 0
}

func (t *TL) l2pGet(id uint32) int64 {
	if id >= uint32(len(t.l2p)) {
		return 0
	}
	return t.l2p[id]
}

func (t *TL) l2pSet(id uint32, off int64) {
	for uint32(len(t.l2p)) <= id {
		t.l2p = append(t.l2p, 0)
	}
	t.l2p[id] = off
}

// preferNewerAndInvalidate resolves a mount-time L2P collision by keeping
// whichever slot was written later (the later program order in the same
// data sector always has the higher physical offset here because slots
// are filled front-to-back) and marking the other erasable.
func (t *TL) preferNewerAndInvalidate(ctx context.Context, id uint32, existing, candidate int64) {
	keep, lose := candidate, existing
	if existing > candidate {
		keep, lose = existing, candidate
	}
	t.l2pSet(id, keep)
	_ = t.markErasableAt(ctx, lose)
}

// ---------------------------------------------------------------------
// Read / write / trim
// ---------------------------------------------------------------------

// Read implements sector.TranslationLayer.
func (t *TL) Read(ctx context.Context, sec uint32, dst []byte) error {
	bps := int(t.bytesPerLogicalSector)
	if len(dst) == 0 || len(dst)%bps != 0 {
		return errs.New("nortl.read", errs.KindInvalidArgument, "dst must be a multiple of BytesPerSector")
	}
	n := uint32(len(dst) / bps)
	for i := uint32(0); i < n; i++ {
		if err := t.readOne(sec+i, dst[int(i)*bps:int(i+1)*bps]); err != nil {
			return err
		}
	}
	return nil
}

func (t *TL) readOne(s uint32, dst []byte) error {
	off := t.l2pGet(s)
	if off == 0 {
		for i := range dst {
			dst[i] = 0xFF
		}
		return nil
	}
	if err := t.phys.ReadOff(off+lshPackedSize, dst); err != nil {
		return errs.Wrap("nortl.read", errs.KindIO, err)
	}
	return nil
}

// Write implements sector.TranslationLayer (spec.md section 4.3, "Write
// path").
func (t *TL) Write(ctx context.Context, sec uint32, data []byte, repeatSame bool) error {
	if t.readOnly {
		return errs.New("nortl.write", errs.KindReadOnly, "device is read-only")
	}
	bps := int(t.bytesPerLogicalSector)
	if len(data) == 0 || len(data)%bps != 0 {
		return errs.New("nortl.write", errs.KindInvalidArgument, "data must be a multiple of BytesPerSector")
	}
	n := uint32(len(data) / bps)
	for i := uint32(0); i < n; i++ {
		if err := t.writeOne(ctx, sec+i, data[int(i)*bps:int(i+1)*bps]); err != nil {
			return err
		}
	}
	return nil
}

func (t *TL) writeOne(ctx context.Context, s uint32, payload []byte) error {
	slot, err := t.allocateSlot(ctx)
	if err != nil {
		return err
	}
	lshBuf, _ := (&header.NORLogicalSectorHeader{ID: s, DataStatus: uint8(header.NORDataStatusValid)}).MarshalBinary()
	if err := t.phys.ProgramOff(slot.offset+lshPackedSize, payload); err != nil {
		return errs.Wrap("nortl.write", errs.KindIO, err)
	}
	if err := t.phys.ProgramOff(slot.offset, lshBuf); err != nil {
		return errs.Wrap("nortl.write", errs.KindIO, err)
	}
	prev := t.l2pGet(s)
	t.l2pSet(s, slot.offset)
	if prev != 0 {
		if err := t.markErasableAt(ctx, prev); err != nil {
			return err
		}
	}
	return t.wearLevelCheck(ctx, t.sectorSizeOf(slot.physSector))
}

// allocateSlot pops a verified-blank slot from the free cache, refilling
// and then running GC as needed (spec.md section 4.3, "Write path" step
// 1-2).
func (t *TL) allocateSlot(ctx context.Context) (freeSlot, error) {
	for {
		if len(t.freeCache) == 0 {
			if err := t.refillFreeCache(ctx); err != nil {
				return freeSlot{}, err
			}
			if len(t.freeCache) == 0 {
				if err := t.runGC(ctx); err != nil {
					return freeSlot{}, err
				}
				if err := t.refillFreeCache(ctx); err != nil {
					return freeSlot{}, err
				}
				if len(t.freeCache) == 0 {
					return freeSlot{}, errs.New("nortl.write", errs.KindOutOfSpace, "no free logical-sector slot available")
				}
			}
		}
		slot := t.freeCache[len(t.freeCache)-1]
		t.freeCache = t.freeCache[:len(t.freeCache)-1]

		if !t.verifyBlank(slot) {
			// An interrupted prior write left a blank-looking header over
			// non-blank payload: mark it erasable and keep looking.
			_ = t.markErasableAt(ctx, slot.offset)
			continue
		}
		return slot, nil
	}
}

func (t *TL) verifyBlank(slot freeSlot) bool {
	buf := make([]byte, lshPackedSize+int(t.bytesPerLogicalSector))
	if err := t.phys.ReadOff(slot.offset, buf); err != nil {
		return false
	}
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func (t *TL) sectorSizeOf(physSector int) uint32 {
	info, err := t.phys.GetSectorInfo(physSector)
	if err != nil {
		return 0
	}
	return info.Size
}

// refillFreeCache scans current DATA sectors for blank slots up to the
// cache's configured capacity.
func (t *TL) refillFreeCache(ctx context.Context) error {
	n := t.phys.GetNumSectors()
	for i := 0; i < n && len(t.freeCache) < t.cfg.FreeCacheSize; i++ {
		if t.role[i] != header.NORSectorData {
			continue
		}
		sinfo, err := t.phys.GetSectorInfo(i)
		if err != nil {
			continue
		}
		slotSize := int64(lshPackedSize + int(t.bytesPerLogicalSector))
		off := sinfo.Offset + pshPackedSize
		end := sinfo.Offset + int64(sinfo.Size)
		for off+slotSize <= end && len(t.freeCache) < t.cfg.FreeCacheSize {
			lshBuf := make([]byte, lshPackedSize)
			if err := t.phys.ReadOff(off, lshBuf); err == nil {
				var lsh header.NORLogicalSectorHeader
				if err := lsh.UnmarshalBinary(lshBuf); err == nil &&
					lsh.ID == 0xFFFFFFFF && header.NORDataStatus(lsh.DataStatus) == header.NORDataStatusInvalid {
					t.freeCache = append(t.freeCache, freeSlot{physSector: i, offset: off})
				}
			}
			off += slotSize
		}
	}
	return nil
}

// markErasableAt writes DataStatus = ERASABLE over the slot at off,
// leaving its ID intact (spec.md section 4, "Stale" row of the LSH state
// table).
func (t *TL) markErasableAt(ctx context.Context, off int64) error {
	lshBuf, _ := (&header.NORLogicalSectorHeader{ID: 0xFFFFFFFF, DataStatus: uint8(header.NORDataStatusErasable)}).MarshalBinary()
	if err := t.phys.ProgramOff(off, lshBuf); err != nil {
		return errs.Wrap("nortl.invalidate", errs.KindIO, err)
	}
	return nil
}

// Trim implements sector.TranslationLayer (spec.md section 4.3, "Trim").
func (t *TL) Trim(ctx context.Context, first, count uint32) error {
	for s := first; s < first+count; s++ {
		off := t.l2pGet(s)
		if off == 0 {
			continue
		}
		if err := t.markErasableAt(ctx, off); err != nil {
			return err
		}
		t.l2pSet(s, 0)
	}
	return nil
}

// ---------------------------------------------------------------------
// Garbage collection
// ---------------------------------------------------------------------

// runGC implements spec.md section 4.3's two-step GC: reclaim an already
// INVALID sector outright if one exists; otherwise copy-compact the best
// DATA sector candidate into its size's work sector.
func (t *TL) runGC(ctx context.Context) error {
	for i, role := range t.role {
		if role == header.NORSectorInvalid {
			return t.reclaimInvalid(ctx, i)
		}
	}
	for i, role := range t.role {
		if role != header.NORSectorData {
			continue
		}
		hasErasable, hasBlank, err := t.scanSlots(i)
		if err != nil {
			return err
		}
		if hasErasable && !hasBlank {
			return t.compactDataSector(ctx, i)
		}
	}
	return errs.New("nortl.gc", errs.KindOutOfSpace, "no GC candidate found")
}

func (t *TL) scanSlots(i int) (hasErasable, hasBlank bool, err error) {
	sinfo, err := t.phys.GetSectorInfo(i)
	if err != nil {
		return false, false, errs.Wrap("nortl.gc", errs.KindIO, err)
	}
	slotSize := int64(lshPackedSize + int(t.bytesPerLogicalSector))
	off := sinfo.Offset + pshPackedSize
	end := sinfo.Offset + int64(sinfo.Size)
	for off+slotSize <= end {
		lshBuf := make([]byte, lshPackedSize)
		if err := t.phys.ReadOff(off, lshBuf); err == nil {
			var lsh header.NORLogicalSectorHeader
			if err := lsh.UnmarshalBinary(lshBuf); err == nil {
				switch {
				case lsh.ID == 0xFFFFFFFF && header.NORDataStatus(lsh.DataStatus) == header.NORDataStatusInvalid:
					hasBlank = true
				case header.NORDataStatus(lsh.DataStatus) == header.NORDataStatusErasable:
					hasErasable = true
				}
			}
		}
		off += slotSize
	}
	return hasErasable, hasBlank, nil
}

func (t *TL) reclaimInvalid(ctx context.Context, i int) error {
	sinfo, err := t.phys.GetSectorInfo(i)
	if err != nil {
		return errs.Wrap("nortl.gc", errs.KindIO, err)
	}
	if err := t.eraseSectorFailSafe(ctx, i, sinfo); err != nil {
		return err
	}
	t.role[i] = header.NORSectorData
	if err := t.writeRole(i, sinfo, header.NORSectorData); err != nil {
		return err
	}
	return t.refillFreeCache(ctx)
}

// compactDataSector copies every live slot of sector i into the work
// sector matching its size, then invalidates i (spec.md section 4.3,
// "Garbage collection" step 2 / "Work sector").
func (t *TL) compactDataSector(ctx context.Context, i int) error {
	sinfo, err := t.phys.GetSectorInfo(i)
	if err != nil {
		return errs.Wrap("nortl.gc", errs.KindIO, err)
	}
	workIdx, ok := t.workBySize[sinfo.Size]
	if !ok {
		return errs.New("nortl.gc", errs.KindOutOfSpace, "no work sector bound for this erase-unit size")
	}
	workInfo, _ := t.phys.GetSectorInfo(workIdx)

	slotSize := int64(lshPackedSize + int(t.bytesPerLogicalSector))
	off := sinfo.Offset + pshPackedSize
	end := sinfo.Offset + int64(sinfo.Size)
	for off+slotSize <= end {
		lshBuf := make([]byte, lshPackedSize)
		if err := t.phys.ReadOff(off, lshBuf); err == nil {
			var lsh header.NORLogicalSectorHeader
			if err := lsh.UnmarshalBinary(lshBuf); err == nil &&
				header.NORDataStatus(lsh.DataStatus) == header.NORDataStatusValid {
				payload := make([]byte, t.bytesPerLogicalSector)
				if err := t.phys.ReadOff(off+lshPackedSize, payload); err == nil {
					dst, err := t.allocateRawSlotIn(workIdx, workInfo)
					if err == nil {
						_ = t.phys.ProgramOff(dst+lshPackedSize, payload)
						_ = t.phys.ProgramOff(dst, lshBuf)
						t.l2pSet(lsh.ID, dst)
					}
				}
			}
		}
		off += slotSize
	}

	t.role[i] = header.NORSectorInvalid
	if err := t.writeRole(i, sinfo, header.NORSectorInvalid); err != nil {
		return err
	}
	t.role[workIdx] = header.NORSectorData
	if err := t.writeRole(workIdx, workInfo, header.NORSectorData); err != nil {
		return err
	}
	delete(t.workBySize, sinfo.Size)

	// The freshly erased former source becomes the new work sector once
	// erased (spec.md section 4.3, "Work sector").
	if err := t.eraseSectorFailSafe(ctx, i, sinfo); err != nil {
		return err
	}
	t.role[i] = header.NORSectorWork
	if err := t.writeRole(i, sinfo, header.NORSectorWork); err != nil {
		return err
	}
	t.workBySize[sinfo.Size] = i
	t.hub.Record(diagnostics.KindGC, 0, uint32(i), "nor sector compacted")
	return t.refillFreeCache(ctx)
}

// allocateRawSlotIn finds the first blank slot physically inside
// physSector without touching the shared free cache (used while the work
// sector is still mid-compaction).
func (t *TL) allocateRawSlotIn(physSector int, sinfo sector.NORSectorInfo) (int64, error) {
	slotSize := int64(lshPackedSize + int(t.bytesPerLogicalSector))
	off := sinfo.Offset + pshPackedSize
	end := sinfo.Offset + int64(sinfo.Size)
	for off+slotSize <= end {
		buf := make([]byte, slotSize)
		if err := t.phys.ReadOff(off, buf); err == nil {
			blank := true
			for _, b := range buf {
				if b != 0xFF {
					blank = false
					break
				}
			}
			if blank {
				return off, nil
			}
		}
		off += slotSize
	}
	return 0, errs.New("nortl.gc", errs.KindOutOfSpace, "work sector has no blank slot")
}

func (t *TL) writeRole(i int, sinfo sector.NORSectorInfo, role header.NORSectorType) error {
	psh := header.NORPhysicalSectorHeader{
		Signature:      uint8(header.NORSignatureCurrent),
		FormatVersion:  1,
		FailSafeErase:  boolToFailSafe(t.failSafe),
		Type:           uint8(role),
		EraseCount:     t.eraseCount[i],
		EraseSignature: [4]byte{'E', 'R', 'S', 'D'},
	}
	buf, err := psh.MarshalBinary()
	if err != nil {
		return errs.Wrap("nortl.gc", errs.KindCorruption, err)
	}
	if err := t.phys.ProgramOff(sinfo.Offset, buf); err != nil {
		return errs.Wrap("nortl.gc", errs.KindIO, err)
	}
	return nil
}

func boolToFailSafe(b bool) uint8 {
	if b {
		return 0x00
	}
	return 0xFF
}

// ---------------------------------------------------------------------
// Fail-safe erase and wear leveling
// ---------------------------------------------------------------------

// eraseSectorFailSafe implements spec.md section 4.3's optional two-phase
// erase: invalidate the erase-completion marker, erase, write the new
// erase count, write the completion marker.
func (t *TL) eraseSectorFailSafe(ctx context.Context, i int, sinfo sector.NORSectorInfo) error {
	if t.failSafe {
		invalidated := make([]byte, 4)
		if err := t.phys.ProgramOff(sinfo.Offset+8, invalidated); err != nil {
			return errs.Wrap("nortl.erase", errs.KindIO, err)
		}
	}
	if err := t.phys.EraseSector(i); err != nil {
		return errs.Wrap("nortl.erase", errs.KindIO, err)
	}
	t.eraseCount[i]++
	ec := make([]byte, 4)
	ec[0] = byte(t.eraseCount[i] >> 24)
	ec[1] = byte(t.eraseCount[i] >> 16)
	ec[2] = byte(t.eraseCount[i] >> 8)
	ec[3] = byte(t.eraseCount[i])
	if err := t.phys.ProgramOff(sinfo.Offset+4, ec); err != nil {
		return errs.Wrap("nortl.erase", errs.KindIO, err)
	}
	if t.failSafe {
		if err := t.phys.ProgramOff(sinfo.Offset+8, []byte{'E', 'R', 'S', 'D'}); err != nil {
			return errs.Wrap("nortl.erase", errs.KindIO, err)
		}
	}
	return nil
}

func (t *TL) reerase(ctx context.Context, i int, sinfo sector.NORSectorInfo) error {
	if err := t.phys.EraseSector(i); err != nil {
		return errs.Wrap("nortl.reerase", errs.KindIO, err)
	}
	t.eraseCount[i] = 0
	return nil
}

// wearLevelCheck implements spec.md section 4.3's "Wear leveling": after
// each logical-sector write into a sector of size, if the work sector's
// erase count now exceeds the minimum-wear DATA sector of the same size by
// more than the configured threshold, that low-wear sector is copy-GC'd
// into the work sector, rotating it onto a more-worn erase unit.
func (t *TL) wearLevelCheck(ctx context.Context, size uint32) error {
	workIdx, ok := t.workBySize[size]
	if !ok {
		return nil
	}
	minIdx, minEC, found := -1, uint32(0), false
	for i, role := range t.role {
		if role != header.NORSectorData {
			continue
		}
		if s := t.sectorSizeOf(i); s != size {
			continue
		}
		if !found || t.eraseCount[i] < minEC {
			minIdx, minEC, found = i, t.eraseCount[i], true
		}
	}
	if !found || t.eraseCount[workIdx] <= minEC+t.cfg.WearLevelThreshold {
		return nil
	}
	t.hub.Record(diagnostics.KindWearLevelActive, 0, uint32(minIdx), "nor active wear-level swap")
	return t.compactDataSector(ctx, minIdx)
}

// ---------------------------------------------------------------------
// IOCtl
// ---------------------------------------------------------------------

// IOCtl implements sector.TranslationLayer.
func (t *TL) IOCtl(cmd sector.IOCtl, arg interface{}) (interface{}, error) {
	switch cmd {
	case sector.IOCtlGetDeviceInfo:
		return sector.DeviceInfo{
			NumLogicalSectors: t.numLogicalSectors,
			BytesPerSector:    t.bytesPerLogicalSector,
			VersionMajor:      1,
			ReadOnly:          t.readOnly,
		}, nil
	case sector.IOCtlFormatLowLevel:
		return nil, FormatLowLevel(context.Background(), t.phys, t.bytesPerLogicalSector)
	case sector.IOCtlSetReadOnly:
		t.readOnly = true
		return nil, nil
	case sector.IOCtlGetNumEraseOperations:
		total := uint64(0)
		for _, ec := range t.eraseCount {
			total += uint64(ec)
		}
		return total, nil
	case sector.IOCtlGetStatistics:
		return t.hub.Recent(0), nil
	default:
		return nil, errs.New("nortl.ioctl", errs.KindInvalidArgument, "unsupported ioctl")
	}
}

var _ sector.TranslationLayer = (*TL)(nil)
