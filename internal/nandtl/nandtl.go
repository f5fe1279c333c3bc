// Package nandtl implements the NAND translation layer of spec.md section
// 4.2: a flat array of fixed-size logical sectors over raw SLC NAND,
// absorbing partial writes through work blocks, distributing wear across
// physical blocks, and detecting/correcting bit errors with the SEC-DED
// code in internal/ecc.
//
// It is grounded on emFile's FS_NAND_Drv.c: LBI/BRSI/PBI addressing, the
// work-block-first read/write path, in-place vs. via-copy work-block
// conversion with the N1 data-count tie-break, and the passive/active
// wear-leveling block allocator. Spare-area encoding is internal/header's
// NANDSpare; fixed-field sectors (format-info) use internal/header's
// go-restruct types.
package nandtl

import (
	"context"

	"flashcore/internal/diagnostics"
	"flashcore/internal/ecc"
	"flashcore/internal/errs"
	"flashcore/internal/header"
	"flashcore/internal/sector"
)

var formatSignature = [8]byte{'F', 'L', 'N', 'A', 'N', 'D', 'F', 'I'}

// Config bounds the policies spec.md section 4.2 leaves as parameters.
type Config struct {
	// NumWorkBlocks is the size of the work-block descriptor pool. One
	// work block is required per erase-unit size in the NOR layer; NAND
	// has a single uniform block size, so this is simply a pool size.
	NumWorkBlocks uint32
	// WearLevelThreshold is the erase-count gap that triggers active wear
	// leveling in allocateErased (spec.md section 4.2, "Block allocation").
	WearLevelThreshold uint32
	// RelocationCorrectedThreshold is how many repeated 1-bit ECC
	// corrections on the same page trigger a preventive relocation.
	RelocationCorrectedThreshold uint32
}

// DefaultConfig returns reasonable defaults for a small-to-medium device.
func DefaultConfig() Config {
	return Config{NumWorkBlocks: 4, WearLevelThreshold: 64, RelocationCorrectedThreshold: 3}
}

// FatalAction is the caller's response to a registered fatal-error
// callback (spec.md section 4.2, "Fatal-error surface").
type FatalAction int

const (
	FatalActionPropagate FatalAction = iota
	FatalActionReadOnly
)

// FatalCallback is invoked on uncorrectable ECC reads, out-of-free-blocks,
// and unrecoverable writes.
type FatalCallback func(err error) FatalAction

// workBlock is the in-RAM descriptor for one bound work block.
type workBlock struct {
	pbi         uint32
	lbi         uint32
	posForBRSI  []int32 // page index holding each BRSI's latest write, -1 if none
	pageUsed    []bool  // which physical pages have been programmed
	nextScan    int     // hint for the next free-page scan
	correctedCt map[uint32]uint32
}

// TL is a NAND translation layer instance bound to one sector.NANDPhysical.
type TL struct {
	phys sector.NANDPhysical
	cfg  Config
	hub  *diagnostics.Hub

	info           sector.NANDDeviceInfo
	sectorsPerBlk  uint32
	bytesPerSector uint32
	numLogicalBlk  uint32
	numLogicalSec  uint32

	l2p        []int32 // LBI -> PBI, -1 if unassigned
	eraseCount []uint32
	free       []bool // true: erased and unbound
	driverBad  []bool
	dataCount  []byte // per-PBI data-count nibble, used for N1 tie-break

	work       []*workBlock // MRU order, front = most recently used
	freeCursor uint32

	// trimmed records logical sectors freed by Trim, independent of
	// whether the sector's LBI currently lives in a work block or has
	// already been converted to a data block. A plain L2P/work-block
	// "drop the reference" is only enough while the sector is still
	// covered by a live work block; once convertInPlace/convertViaCopy
	// fold it into a data block, the committed copy is still reachable
	// through t.l2p and must be masked here instead. Cleared on the next
	// write to that sector.
	trimmed map[sectorKey]struct{}

	readOnly bool
	onFatal  FatalCallback

	mounted bool
}

// sectorKey identifies one logical sector by its block-relative split, the
// same split lbiBrsi produces for every other addressing path.
type sectorKey struct {
	lbi, brsi uint32
}

// New constructs an unmounted instance over phys.
func New(phys sector.NANDPhysical, cfg Config) *TL {
	return &TL{phys: phys, cfg: cfg, hub: diagnostics.NewHub(0), trimmed: map[sectorKey]struct{}{}}
}

// SetFatalCallback registers the callback spec.md section 4.2's
// "Fatal-error surface" invokes on uncorrectable ECC reads, out-of-space,
// or unrecoverable writes.
func (t *TL) SetFatalCallback(cb FatalCallback) { t.onFatal = cb }

// Diagnostics exposes the event hub for this instance.
func (t *TL) Diagnostics() *diagnostics.Hub { return t.hub }

// NumLogicalSectors implements sector.TranslationLayer.
func (t *TL) NumLogicalSectors() uint32 { return t.numLogicalSec }

// BytesPerSector implements sector.TranslationLayer.
func (t *TL) BytesPerSector() uint32 { return t.bytesPerSector }

// ---------------------------------------------------------------------
// Format / mount
// ---------------------------------------------------------------------

// FormatLowLevel erases every erasable block and writes the format-info
// sector to logical sector 0 of block 0 (spec.md section 4.2, "Low-level
// format"). Blocks whose erase fails are counted as bad and skipped.
func FormatLowLevel(ctx context.Context, phys sector.NANDPhysical, cfg Config) error {
	info := phys.GetDeviceInfo()
	badCnt := uint32(0)
	for b := uint32(0); b < info.NumBlocks; b++ {
		if err := phys.EraseBlock(b); err != nil {
			badCnt++
			continue
		}
	}
	fi := header.FormatInfo{
		Signature:         formatSignature,
		VersionMajor:      1,
		LogicalSectorCnt:  (info.NumBlocks - badCnt - cfg.NumWorkBlocks) * info.PagesPerBlock,
		LogicalSectorSize: info.BytesPerPage,
	}
	buf, err := fi.MarshalBinary()
	if err != nil {
		return errs.Wrap("nandtl.format", errs.KindCorruption, err)
	}
	page := make([]byte, info.BytesPerPage)
	copy(page, buf)
	spare := header.NANDSpare{LargePage: info.BytesPerPage >= 2048}
	spare.SetDataStatus(header.DataStatusValid)
	spare.SetLBI(0)
	writeECC(&spare, page)
	if err := phys.WriteEx(0, 0, page, spare.Raw[:]); err != nil {
		return errs.Wrap("nandtl.format", errs.KindIO, err)
	}
	return nil
}

// Mount implements sector.TranslationLayer: reads format info from block
// 0, validates it, then scans every block to reconstruct the L2P table,
// the free-map, work-block descriptors, and min/max erase counts (spec.md
// section 4.2, "Low-level mount").
func (t *TL) Mount(ctx context.Context) error {
	t.info = t.phys.GetDeviceInfo()
	t.sectorsPerBlk = t.info.PagesPerBlock
	t.bytesPerSector = t.info.BytesPerPage

	page := make([]byte, t.info.BytesPerPage)
	spareBuf := make([]byte, header.NANDSpareSize)
	if err := t.phys.ReadEx(0, 0, page, spareBuf); err != nil {
		return errs.Wrap("nandtl.mount", errs.KindIO, err)
	}
	var fi header.FormatInfo
	if err := fi.UnmarshalBinary(page[:min(len(page), 32)]); err != nil {
		return errs.Wrap("nandtl.mount", errs.KindCorruption, err)
	}
	if fi.Signature != formatSignature {
		return errs.New("nandtl.mount", errs.KindNotFormatted, "nand format signature mismatch")
	}
	if fi.VersionMajor != 1 {
		return errs.New("nandtl.mount", errs.KindCorruption, "nand format version mismatch")
	}
	t.readOnly = fi.ErrorState != 0

	t.numLogicalBlk = t.info.NumBlocks
	t.l2p = make([]int32, t.numLogicalBlk)
	for i := range t.l2p {
		t.l2p[i] = -1
	}
	t.eraseCount = make([]uint32, t.info.NumBlocks)
	t.free = make([]bool, t.info.NumBlocks)
	t.driverBad = make([]bool, t.info.NumBlocks)
	t.dataCount = make([]byte, t.info.NumBlocks)
	t.work = nil
	t.trimmed = map[sectorKey]struct{}{}

	for b := uint32(0); b < t.info.NumBlocks; b++ {
		if err := t.phys.ReadEx(b, 0, nil, spareBuf); err != nil {
			t.driverBad[b] = true
			continue
		}
		sp := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
		copy(sp.Raw[:], spareBuf)
		if sp.IsBadBlockMarked() {
			t.driverBad[b] = true
			continue
		}
		t.eraseCount[b] = sp.EraseCount()
		switch sp.DataStatus() {
		case header.DataStatusEmpty:
			t.free[b] = true
		case header.DataStatusWork:
			lbi, _ := sp.LBI()
			t.registerWorkBlock(b, uint32(lbi))
		case header.DataStatusValid:
			lbi, _ := sp.LBI()
			dc := sp.DataCount()
			t.installDataBlock(ctx, uint32(lbi), b, dc)
		default:
			t.free[b] = false // invalid; awaits erase, not immediately reusable
		}
	}

	for t.numWorkBlocks() < t.cfg.NumWorkBlocks {
		pbi, ok := t.pickFreeBlock()
		if !ok {
			break
		}
		t.free[pbi] = false
		t.work = append(t.work, &workBlock{
			pbi: pbi, lbi: ^uint32(0),
			posForBRSI: freshPosSlice(t.sectorsPerBlk),
			pageUsed:   make([]bool, t.sectorsPerBlk),
		})
	}
	if t.numWorkBlocks() == 0 {
		return errs.New("nandtl.mount", errs.KindNotFormatted, "no work block available at mount")
	}

	// Logical address space spans the full LBI range; unassigned LBIs
	// simply read back as blank until first written.
	t.numLogicalSec = t.numLogicalBlk * t.sectorsPerBlk

	t.mounted = true
	t.hub.Record(diagnostics.KindMount, 0, t.info.NumBlocks, "nandtl mounted")
	return nil
}

// Unmount implements sector.TranslationLayer.
func (t *TL) Unmount() error {
	t.mounted = false
	return nil
}

func (t *TL) numWorkBlocks() uint32 { return uint32(len(t.work)) }

func freshPosSlice(n uint32) []int32 {
	s := make([]int32, n)
	for i := range s {
		s[i] = -1
	}
	return s
}

// registerWorkBlock installs a block read back as WORK during mount,
// reconstructing its per-BRSI position table from every page's spare
// (spec.md section 4.2, "Reconstruct each work block's per-sector
// bitmap from page spares").
func (t *TL) registerWorkBlock(pbi, lbi uint32) {
	wb := &workBlock{
		pbi: pbi, lbi: lbi,
		posForBRSI:  freshPosSlice(t.sectorsPerBlk),
		pageUsed:    make([]bool, t.sectorsPerBlk),
		correctedCt: map[uint32]uint32{},
	}
	spareBuf := make([]byte, header.NANDSpareSize)
	for p := uint32(0); p < t.sectorsPerBlk; p++ {
		if err := t.phys.ReadEx(pbi, p, nil, spareBuf); err != nil {
			continue
		}
		sp := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
		copy(sp.Raw[:], spareBuf)
		if sp.IsSectorFree() {
			continue
		}
		brsi, _ := sp.BRSI()
		if uint32(brsi) >= t.sectorsPerBlk {
			continue
		}
		wb.posForBRSI[brsi] = int32(p)
		wb.pageUsed[p] = true
	}
	t.work = append(t.work, wb)
}

// installDataBlock applies the N1 tie-break: on an LBI collision between
// two VALID blocks, the one with the higher data count wins and the loser
// is scheduled for erase (spec.md section 4.2, "pick the one with the
// higher data count and erase the loser").
func (t *TL) installDataBlock(ctx context.Context, lbi, pbi uint32, dataCount byte) {
	t.dataCount[pbi] = dataCount
	if lbi >= uint32(len(t.l2p)) {
		return
	}
	cur := t.l2p[lbi]
	if cur < 0 {
		t.l2p[lbi] = int32(pbi)
		return
	}
	if dataCount > t.dataCount[cur] {
		loser := uint32(cur)
		t.l2p[lbi] = int32(pbi)
		_ = t.phys.EraseBlock(loser) // best-effort reclaim of the stale copy
		t.free[loser] = true
	} else {
		_ = t.phys.EraseBlock(pbi)
		t.free[pbi] = true
	}
}

// ---------------------------------------------------------------------
// Addressing
// ---------------------------------------------------------------------

func (t *TL) lbiBrsi(sec uint32) (lbi, brsi uint32) {
	return sec / t.sectorsPerBlk, sec % t.sectorsPerBlk
}

func (t *TL) findWorkBlock(lbi uint32) *workBlock {
	for _, wb := range t.work {
		if wb.lbi == lbi {
			return wb
		}
	}
	return nil
}

func (t *TL) moveToFront(wb *workBlock) {
	for i, w := range t.work {
		if w == wb {
			copy(t.work[1:i+1], t.work[:i])
			t.work[0] = wb
			return
		}
	}
}

// ---------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------

// Read implements sector.TranslationLayer (spec.md section 4.2, "Read
// path").
func (t *TL) Read(ctx context.Context, sec uint32, dst []byte) error {
	bps := int(t.bytesPerSector)
	if len(dst) == 0 || len(dst)%bps != 0 {
		return errs.New("nandtl.read", errs.KindInvalidArgument, "dst must be a multiple of BytesPerSector")
	}
	n := uint32(len(dst) / bps)
	for i := uint32(0); i < n; i++ {
		if err := t.readOne(ctx, sec+i, dst[int(i)*bps:int(i+1)*bps]); err != nil {
			return err
		}
	}
	return nil
}

func (t *TL) readOne(ctx context.Context, s uint32, dst []byte) error {
	lbi, brsi := t.lbiBrsi(s)
	if _, ok := t.trimmed[sectorKey{lbi, brsi}]; ok {
		for i := range dst {
			dst[i] = 0xFF
		}
		return nil
	}
	var pbi, page uint32
	if wb := t.findWorkBlock(lbi); wb != nil && wb.posForBRSI[brsi] >= 0 {
		pbi, page = wb.pbi, uint32(wb.posForBRSI[brsi])
	} else if lbi < uint32(len(t.l2p)) && t.l2p[lbi] >= 0 {
		pbi, page = uint32(t.l2p[lbi]), brsi
	} else {
		for i := range dst {
			dst[i] = 0xFF
		}
		return nil
	}

	raw := make([]byte, t.bytesPerSector)
	spareBuf := make([]byte, header.NANDSpareSize)
	if err := t.phys.ReadEx(pbi, page, raw, spareBuf); err != nil {
		return t.handleReadFailure(ctx, s, lbi, pbi, dst, errs.Wrap("nandtl.read", errs.KindIO, err))
	}
	sp := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
	copy(sp.Raw[:], spareBuf)

	outcome, relocate := t.applyECC(&sp, raw, lbi, page)
	switch outcome {
	case ecc.OutcomeBlank:
		for i := range dst {
			dst[i] = 0xFF
		}
		return nil
	case ecc.OutcomeUncorrectable:
		return t.handleReadFailure(ctx, s, lbi, pbi, dst, errs.NewSector("nandtl.read", errs.KindCorruption, s, "uncorrectable ECC error"))
	}
	copy(dst, raw)
	if relocate {
		t.relocateBlock(ctx, lbi)
	}
	return nil
}

// applyECC checks the SEC-DED code of each of the first
// header.NumECCSubBlocks 256-byte sub-blocks of the page (its first 1024
// bytes; bytes beyond those carry no ECC), returning the worst outcome
// observed and whether the page's repeated-correction count crossed the
// relocation threshold.
func (t *TL) applyECC(sp *header.NANDSpare, page []byte, lbi, p uint32) (ecc.Outcome, bool) {
	worst := ecc.OutcomeOK
	anyCorrected := false
	for i := 0; i < header.NumECCSubBlocks; i++ {
		start := i * ecc.SubBlockSize
		end := start + ecc.SubBlockSize
		if end > len(page) {
			break
		}
		stored := sp.ECC(i)
		if ecc.IsBlank(stored) {
			return ecc.OutcomeBlank, false
		}
		out := ecc.Apply(page[start:end], stored)
		if worse(out, worst) {
			worst = out
		}
		if out == ecc.OutcomeCorrected {
			anyCorrected = true
		}
	}
	relocate := worst == ecc.OutcomeECCError
	if anyCorrected {
		wb := t.findWorkBlock(lbi)
		if wb != nil && wb.correctedCt != nil {
			wb.correctedCt[p]++
			if wb.correctedCt[p] >= t.cfg.RelocationCorrectedThreshold {
				relocate = true
			}
		}
	}
	return worst, relocate
}

func worse(a, b ecc.Outcome) bool {
	rank := func(o ecc.Outcome) int {
		switch o {
		case ecc.OutcomeOK:
			return 0
		case ecc.OutcomeCorrected:
			return 1
		case ecc.OutcomeECCError:
			return 2
		case ecc.OutcomeUncorrectable:
			return 3
		default:
			return 4
		}
	}
	return rank(a) > rank(b)
}

// handleReadFailure implements the recovery-by-copy path: copy every
// surviving page of the failing block to a fresh one, mark the failing
// block bad, then re-read s into dst from the recovered block, surfacing
// any fatal callback decision if recovery fails (spec.md section 4.2,
// "attempt data recovery by copying the surviving content").
func (t *TL) handleReadFailure(ctx context.Context, s, lbi, failingPBI uint32, dst []byte, cause error) error {
	if err := t.recoverBlock(ctx, lbi, failingPBI, header.BadBlockErrorECC); err != nil {
		t.raiseFatal(cause)
		return cause
	}
	return t.readOne(ctx, s, dst)
}

func (t *TL) raiseFatal(cause error) {
	t.hub.Record(diagnostics.KindFatalError, 0, 0, cause.Error())
	if t.onFatal == nil {
		return
	}
	if t.onFatal(cause) == FatalActionReadOnly {
		t.readOnly = true
	}
}

// recoverBlock copies every readable page of failingPBI to a freshly
// allocated block, repoints L2P/work descriptors at it, and marks
// failingPBI bad.
func (t *TL) recoverBlock(ctx context.Context, lbi, failingPBI uint32, reason header.BadBlockErrorType) error {
	dst, ok := t.allocateErased(ctx)
	if !ok {
		return errs.New("nandtl.recover", errs.KindOutOfSpace, "no free block for recovery")
	}
	page := make([]byte, t.bytesPerSector)
	spareBuf := make([]byte, header.NANDSpareSize)
	for p := uint32(0); p < t.sectorsPerBlk; p++ {
		if err := t.phys.ReadEx(failingPBI, p, page, spareBuf); err != nil {
			continue // unreadable page: left blank in dst
		}
		if err := t.phys.WriteEx(dst, p, page, spareBuf); err != nil {
			continue
		}
	}
	t.markBad(failingPBI, reason, 0)
	if wb := t.findWorkBlock(lbi); wb != nil && wb.pbi == failingPBI {
		wb.pbi = dst
	} else if lbi < uint32(len(t.l2p)) && uint32(t.l2p[lbi]) == failingPBI {
		t.l2p[lbi] = int32(dst)
	}
	t.hub.Record(diagnostics.KindRelocation, lbi, failingPBI, "block recovered by copy")
	return nil
}

func (t *TL) relocateBlock(ctx context.Context, lbi uint32) {
	if lbi >= uint32(len(t.l2p)) || t.l2p[lbi] < 0 {
		return
	}
	pbi := uint32(t.l2p[lbi])
	_ = t.recoverBlock(ctx, lbi, pbi, header.BadBlockErrorECC)
}

// ---------------------------------------------------------------------
// Write path
// ---------------------------------------------------------------------

// Write implements sector.TranslationLayer (spec.md section 4.2, "Write
// path").
func (t *TL) Write(ctx context.Context, sec uint32, data []byte, repeatSame bool) error {
	if t.readOnly {
		return errs.New("nandtl.write", errs.KindReadOnly, "device is read-only")
	}
	bps := int(t.bytesPerSector)
	if len(data) == 0 || len(data)%bps != 0 {
		return errs.New("nandtl.write", errs.KindInvalidArgument, "data must be a multiple of BytesPerSector")
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
	lbi, brsi := t.lbiBrsi(s)
	delete(t.trimmed, sectorKey{lbi, brsi})
	wb, err := t.workBlockFor(ctx, lbi)
	if err != nil {
		return err
	}

	dest, ok := t.choosePosition(wb, brsi)
	if !ok {
		if err := t.convertWorkBlock(ctx, wb); err != nil {
			return err
		}
		wb, err = t.workBlockFor(ctx, lbi)
		if err != nil {
			return err
		}
		dest, ok = t.choosePosition(wb, brsi)
		if !ok {
			return errs.New("nandtl.write", errs.KindOutOfSpace, "work block has no free page after conversion")
		}
	}

	sp := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
	sp.SetDataStatus(header.DataStatusWork)
	sp.SetLBI(uint16(wb.lbi))
	sp.SetEraseCount(t.eraseCount[wb.pbi])
	sp.SetBRSI(uint16(brsi))
	sp.SetSectorFree(false)
	writeECC(&sp, payload)

	if err := t.phys.WriteEx(wb.pbi, dest, payload, sp.Raw[:]); err != nil {
		t.markBad(wb.pbi, header.BadBlockErrorWrite, brsi)
		return errs.Wrap("nandtl.write", errs.KindIO, err)
	}

	// A prior occupant of this BRSI within the same work block is simply
	// superseded: posForBRSI now points at dest, and mount-time
	// reconstruction takes the highest page index per BRSI as current,
	// so no further on-flash invalidation write is needed.
	wb.posForBRSI[brsi] = int32(dest)
	wb.pageUsed[dest] = true

	t.moveToFront(wb)
	return nil
}

// choosePosition implements "prefer native position BRSI(s); else the
// first free page" (spec.md section 4.2, "Write path" step 2).
func (t *TL) choosePosition(wb *workBlock, brsi uint32) (uint32, bool) {
	if brsi < uint32(len(wb.pageUsed)) && !wb.pageUsed[brsi] {
		return brsi, true
	}
	for i := 0; i < len(wb.pageUsed); i++ {
		p := uint32(wb.nextScan+i) % uint32(len(wb.pageUsed))
		if !wb.pageUsed[p] {
			wb.nextScan = int(p+1) % len(wb.pageUsed)
			return p, true
		}
	}
	return 0, false
}

// workBlockFor locates lbi's work block, allocating (and, if the pool is
// exhausted, converting the LRU block) as needed (spec.md section 4.2,
// "Locate or allocate a work block").
func (t *TL) workBlockFor(ctx context.Context, lbi uint32) (*workBlock, error) {
	if wb := t.findWorkBlock(lbi); wb != nil {
		return wb, nil
	}
	// Descriptors pre-allocated by Mount are not yet bound to an LBI; bind
	// one of those before converting a bound one.
	if wb := t.findWorkBlock(^uint32(0)); wb != nil {
		wb.lbi = lbi
		if wb.correctedCt == nil {
			wb.correctedCt = map[uint32]uint32{}
		}
		t.moveToFront(wb)
		return wb, nil
	}
	if uint32(len(t.work)) >= t.cfg.NumWorkBlocks {
		lru := t.work[len(t.work)-1]
		if err := t.convertWorkBlock(ctx, lru); err != nil {
			return nil, err
		}
	}
	pbi, ok := t.allocateErased(ctx)
	if !ok {
		err := errs.New("nandtl.write", errs.KindOutOfSpace, "no free block for work block allocation")
		t.raiseFatal(err)
		return nil, err
	}
	wb := &workBlock{
		pbi: pbi, lbi: lbi,
		posForBRSI:  freshPosSlice(t.sectorsPerBlk),
		pageUsed:    make([]bool, t.sectorsPerBlk),
		correctedCt: map[uint32]uint32{},
	}
	t.work = append([]*workBlock{wb}, t.work...)
	return wb, nil
}

// ---------------------------------------------------------------------
// Work-block conversion
// ---------------------------------------------------------------------

// convertWorkBlock cleans wb into a data block, in place if every written
// sector sits at its native position, else via copy (spec.md section 4.2,
// "Work-block conversion").
func (t *TL) convertWorkBlock(ctx context.Context, wb *workBlock) error {
	inPlace := true
	for brsi, pos := range wb.posForBRSI {
		if pos >= 0 && pos != int32(brsi) {
			inPlace = false
			break
		}
	}
	var err error
	if inPlace {
		err = t.convertInPlace(ctx, wb)
	} else {
		err = t.convertViaCopy(ctx, wb)
	}
	if err != nil {
		return err
	}
	t.removeWorkBlock(wb)
	return nil
}

func (t *TL) convertInPlace(ctx context.Context, wb *workBlock) error {
	sp := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
	spareBuf := make([]byte, header.NANDSpareSize)
	if err := t.phys.ReadEx(wb.pbi, 0, nil, spareBuf); err != nil {
		return errs.Wrap("nandtl.convert", errs.KindIO, err)
	}
	copy(sp.Raw[:], spareBuf)
	sp.SetDataStatus(header.DataStatusValid)
	sp.SetDataCount((t.dataCount[wb.pbi] + 1) & 0x0F)
	if err := t.phys.WriteEx(wb.pbi, 0, nil, sp.Raw[:]); err != nil {
		return errs.Wrap("nandtl.convert", errs.KindIO, err)
	}
	t.dataCount[wb.pbi] = sp.DataCount()
	old := t.l2p[wb.lbi]
	t.l2p[wb.lbi] = int32(wb.pbi)
	if old >= 0 {
		t.invalidateAndErase(ctx, uint32(old))
	}
	return nil
}

// convertViaCopy allocates a fresh block and, for each BRSI, copies (in
// priority order) the work block's latest page, else the old data
// block's page, else leaves it blank. It marks the new block VALID before
// invalidating the sources, so an interrupted conversion leaves two VALID
// blocks for the same LBI that mount's N1 tie-break resolves (spec.md
// section 4.2, "Work-block conversion" / "N1").
func (t *TL) convertViaCopy(ctx context.Context, wb *workBlock) error {
	dst, ok := t.allocateErased(ctx)
	if !ok {
		return errs.New("nandtl.convert", errs.KindOutOfSpace, "no free block for via-copy conversion")
	}
	oldPBI := int32(-1)
	if wb.lbi < uint32(len(t.l2p)) {
		oldPBI = t.l2p[wb.lbi]
	}
	page := make([]byte, t.bytesPerSector)
	oldSpare := make([]byte, header.NANDSpareSize)
	for brsi := uint32(0); brsi < t.sectorsPerBlk; brsi++ {
		var src []byte
		if pos := wb.posForBRSI[brsi]; pos >= 0 {
			if err := t.phys.ReadEx(wb.pbi, uint32(pos), page, nil); err == nil {
				src = page
			}
		} else if oldPBI >= 0 {
			if err := t.phys.ReadEx(uint32(oldPBI), brsi, page, oldSpare); err == nil {
				src = page
			}
		}
		if src == nil {
			continue
		}
		sp := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
		sp.SetDataStatus(header.DataStatusWork)
		sp.SetBRSI(uint16(brsi))
		sp.SetSectorFree(false)
		writeECC(&sp, src)
		if err := t.phys.WriteEx(dst, brsi, src, sp.Raw[:]); err != nil {
			return errs.Wrap("nandtl.convert", errs.KindIO, err)
		}
	}
	finalSpare := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
	finalSpare.SetDataStatus(header.DataStatusValid)
	finalSpare.SetLBI(uint16(wb.lbi))
	finalSpare.SetEraseCount(t.eraseCount[dst])
	dc := byte(0)
	if oldPBI >= 0 {
		dc = (t.dataCount[oldPBI] + 1) & 0x0F
	}
	finalSpare.SetDataCount(dc)
	if err := t.phys.WriteEx(dst, 0, nil, finalSpare.Raw[:]); err != nil {
		return errs.Wrap("nandtl.convert", errs.KindIO, err)
	}
	t.dataCount[dst] = dc

	t.l2p[wb.lbi] = int32(dst)
	t.invalidateAndErase(ctx, wb.pbi)
	if oldPBI >= 0 {
		t.invalidateAndErase(ctx, uint32(oldPBI))
	}
	return nil
}

func (t *TL) removeWorkBlock(wb *workBlock) {
	for i, w := range t.work {
		if w == wb {
			t.work = append(t.work[:i], t.work[i+1:]...)
			return
		}
	}
}

// invalidateAndErase erases pbi immediately, returning it to the free
// pool, or marks it bad if the erase fails. No INVALID status is written
// before the erase.
func (t *TL) invalidateAndErase(ctx context.Context, pbi uint32) {
	if err := t.phys.EraseBlock(pbi); err != nil {
		t.markBad(pbi, header.BadBlockErrorErase, 0)
		return
	}
	t.eraseCount[pbi]++
	t.free[pbi] = true
}

// ---------------------------------------------------------------------
// Block allocation / wear leveling
// ---------------------------------------------------------------------

// allocateErased implements spec.md section 4.2's "Block allocation
// (passive wear leveling)": the next free block after the MRU cursor is
// erased and returned unless doing so would exceed the configured
// wear-level gap over the minimum-erase-count data block, in which case
// the low-wear data block is relocated into the freed slot instead
// (active wear leveling).
func (t *TL) allocateErased(ctx context.Context) (uint32, bool) {
	pbi, ok := t.pickFreeBlock()
	if !ok {
		return 0, false
	}
	if err := t.phys.EraseBlock(pbi); err != nil {
		t.markBad(pbi, header.BadBlockErrorErase, 0)
		return t.allocateErased(ctx)
	}
	t.eraseCount[pbi]++
	t.free[pbi] = false
	t.hub.Record(diagnostics.KindWearLevelPassive, 0, pbi, "block allocated")

	minPBI, minEC, ok := t.minErasedDataBlock()
	if ok && t.eraseCount[pbi] > minEC+t.cfg.WearLevelThreshold {
		t.hub.Record(diagnostics.KindWearLevelActive, 0, minPBI, "active wear-level swap")
		return t.activeLevel(ctx, pbi, minPBI)
	}
	return pbi, true
}

func (t *TL) pickFreeBlock() (uint32, bool) {
	n := uint32(len(t.free))
	if n == 0 {
		return 0, false
	}
	for i := uint32(0); i < n; i++ {
		pbi := (t.freeCursor + i) % n
		if t.free[pbi] && !t.driverBad[pbi] {
			t.freeCursor = (pbi + 1) % n
			return pbi, true
		}
	}
	return 0, false
}

func (t *TL) minErasedDataBlock() (pbi, erases uint32, ok bool) {
	best := uint32(0)
	found := false
	for lbi, p := range t.l2p {
		if p < 0 {
			continue
		}
		ec := t.eraseCount[p]
		if !found || ec < best {
			best = ec
			pbi = uint32(p)
			erases = ec
			ok = true
			_ = lbi
		}
	}
	return
}

// activeLevel moves the data content occupying the low-wear block minPBI
// into freshly-erased block freshPBI, repoints L2P at freshPBI, then
// erases minPBI and returns it as the newly allocated block.
func (t *TL) activeLevel(ctx context.Context, freshPBI, minPBI uint32) (uint32, bool) {
	page := make([]byte, t.bytesPerSector)
	spareBuf := make([]byte, header.NANDSpareSize)
	for p := uint32(0); p < t.sectorsPerBlk; p++ {
		if err := t.phys.ReadEx(minPBI, p, page, spareBuf); err != nil {
			continue
		}
		if err := t.phys.WriteEx(freshPBI, p, page, spareBuf); err != nil {
			return freshPBI, true
		}
	}
	for lbi, p := range t.l2p {
		if p == int32(minPBI) {
			t.l2p[lbi] = int32(freshPBI)
			break
		}
	}
	t.dataCount[freshPBI] = t.dataCount[minPBI]
	t.invalidateAndErase(ctx, minPBI)
	if !t.free[minPBI] {
		// The erase failed and markBad retired minPBI.
		return t.allocateErased(ctx)
	}
	t.free[minPBI] = false
	return minPBI, true
}

// ---------------------------------------------------------------------
// Bad-block marking
// ---------------------------------------------------------------------

// markBad writes the bad-block marker to the first-page spare and the
// driver signature/error-type/BRSI to the second and third page spares
// (spec.md section 4.2, "Bad-block marking").
func (t *TL) markBad(pbi uint32, reason header.BadBlockErrorType, brsi uint32) {
	if pbi >= uint32(len(t.driverBad)) {
		return
	}
	t.driverBad[pbi] = true
	sp := header.NANDSpare{LargePage: t.info.BytesPerPage >= 2048}
	sp.MarkBadBlock()
	_ = t.phys.WriteEx(pbi, 0, nil, sp.Raw[:])

	sig := header.BadBlockSignature()
	info := make([]byte, header.NANDSpareSize)
	copy(info, sig[:])
	info[6] = byte(reason)
	binaryPutU16(info[7:9], uint16(brsi))
	_ = t.phys.WriteEx(pbi, 1, nil, info)
	_ = t.phys.WriteEx(pbi, 2, nil, info)
	t.hub.Record(diagnostics.KindBadBlockMarked, 0, pbi, reason.String())
}

// ---------------------------------------------------------------------
// IOCtl
// ---------------------------------------------------------------------

// IOCtl implements sector.TranslationLayer.
func (t *TL) IOCtl(cmd sector.IOCtl, arg interface{}) (interface{}, error) {
	switch cmd {
	case sector.IOCtlGetDeviceInfo:
		return sector.DeviceInfo{
			NumLogicalSectors: t.numLogicalSec,
			BytesPerSector:    t.bytesPerSector,
			VersionMajor:      1,
			ReadOnly:          t.readOnly,
		}, nil
	case sector.IOCtlFormatLowLevel:
		return nil, FormatLowLevel(context.Background(), t.phys, t.cfg)
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
		return nil, errs.New("nandtl.ioctl", errs.KindInvalidArgument, "unsupported ioctl")
	}
}

// Trim implements sector.TranslationLayer. NAND cannot un-clear a
// committed page's bits short of erasing the whole block, so trim cannot
// be expressed as a further on-flash write to an already-converted data
// block; it is recorded in t.trimmed instead and masks both the
// work-block and L2P read paths (readOne checks it first) until the
// sector is next written. This mirrors the original's _FreeOneSector,
// which invalidates the work-block copy AND the data-block copy reached
// through the L2P rather than only the former.
func (t *TL) Trim(ctx context.Context, first, count uint32) error {
	for s := first; s < first+count; s++ {
		lbi, brsi := t.lbiBrsi(s)
		if wb := t.findWorkBlock(lbi); wb != nil && brsi < uint32(len(wb.pageUsed)) {
			wb.posForBRSI[brsi] = -1
		}
		t.trimmed[sectorKey{lbi, brsi}] = struct{}{}
	}
	return nil
}

func writeECC(sp *header.NANDSpare, page []byte) {
	for i := 0; i < header.NumECCSubBlocks; i++ {
		start := i * ecc.SubBlockSize
		end := start + ecc.SubBlockSize
		if end > len(page) {
			break
		}
		sp.SetECC(i, ecc.Compute(page[start:end]))
	}
}

func binaryPutU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ sector.TranslationLayer = (*TL)(nil)
