// Package journal implements the sector-level write-ahead log described in
// spec.md section 4.1: it wraps a sector.TranslationLayer and makes a
// bounded sequence of sector writes and trims atomic across power loss.
//
// It is grounded on emFile's FS_Journal.c: the reserved-range layout
// (status sector, copy-list sectors, payload sectors, info sector), the
// two-phase commit/replay protocol (FS_Journal.c's _CleanJournal /
// _ResetJournal), and the JOURNAL_STATUS fields it persists (see
// internal/header.JournalStatus). Concurrency is deliberately simple: the
// core is single-threaded per spec.md section 5, so there is no locking
// here — callers serialize their own access.
package journal

import (
	"context"

	"flashcore/internal/diagnostics"
	"flashcore/internal/errs"
	"flashcore/internal/header"
	"flashcore/internal/sector"
)

// OverflowAction is the caller's response to an overflow callback
// (spec.md section 4.1, "Overflow").
type OverflowAction int

const (
	// OverflowAbort latches the transaction as failed.
	OverflowAbort OverflowAction = iota
	// OverflowFlush replays the journal immediately, mid-transaction.
	OverflowFlush
)

// OverflowCallback decides how to respond when a new entry would exceed
// the journal's payload capacity.
type OverflowCallback func(j *Journal) OverflowAction

var (
	journalSignature = [8]byte{'F', 'L', 'A', 'S', 'H', 'J', 'R', 'N'}
	versionMajor     = uint8(1)
	versionMinor     = uint8(0)
)

// slot is one in-RAM journal entry: a write (payload != nil) or a trim
// (payload == nil).
type slot struct {
	sector     uint32
	count      uint32
	isTrim     bool
	repeatSame bool
	payload    [][]byte // one element per sector in the run; nil for trim
}

// Journal is one mounted journal instance bound to a reserved range of a
// TranslationLayer's own logical-sector space.
type Journal struct {
	tl             sector.TranslationLayer
	first          uint32
	numReserved    uint32
	bytesPerSector uint32

	entriesPerSector   uint32
	numCopyListSectors uint32
	numPayloadSectors  uint32

	slots    []slot
	index    map[uint32]int // target sector -> slot index (run start)
	copyList []header.JournalEntry

	openCnt       uint16
	latched       error
	trimSupported bool

	overflow OverflowCallback
	hub      *diagnostics.Hub

	stats struct {
		cleanCnt     uint64
		replayCnt    uint64
		overflowCnt  uint64
		sectorCntTotal uint64
	}
}

func (j *Journal) statusSector() uint32    { return j.first }
func (j *Journal) copyListSector(i uint32) uint32 {
	return j.first + 1 + i
}
func (j *Journal) payloadSector(i uint32) uint32 {
	return j.first + 1 + j.numCopyListSectors + i
}
func (j *Journal) infoSector() uint32 { return j.first + j.numReserved - 1 }

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func layout(numReserved, bytesPerSector uint32) (entriesPerSector, numCopyListSectors, numPayloadSectors uint32) {
	entriesPerSector = bytesPerSector / header.JournalEntrySize
	if entriesPerSector == 0 {
		entriesPerSector = 1
	}
	numCopyListSectors = 1
	for {
		payload := numReserved - 2 - numCopyListSectors
		needed := ceilDiv(payload, entriesPerSector)
		if needed <= numCopyListSectors || needed == 0 {
			numPayloadSectors = payload
			break
		}
		numCopyListSectors = needed
	}
	return
}

// Create formats the reserved journal range if absent: writes the info
// sector, a blank status sector, and initializes RAM state (spec.md
// section 4.1, "create").
func Create(ctx context.Context, tl sector.TranslationLayer, first, numReserved uint32, trimSupported bool) (*Journal, error) {
	bytesPerSector := tl.BytesPerSector()
	if numReserved < 4 {
		return nil, errs.New("journal.create", errs.KindInvalidArgument, "reserved range too small")
	}
	entriesPerSector, numCopyListSectors, numPayloadSectors := layout(numReserved, bytesPerSector)

	j := &Journal{
		tl:                 tl,
		first:              first,
		numReserved:        numReserved,
		bytesPerSector:     bytesPerSector,
		entriesPerSector:   entriesPerSector,
		numCopyListSectors: numCopyListSectors,
		numPayloadSectors:  numPayloadSectors,
		index:              make(map[uint32]int),
		copyList:           make([]header.JournalEntry, numPayloadSectors),
		trimSupported:      trimSupported,
		hub:                diagnostics.NewHub(0),
	}

	info := header.JournalInfo{
		Signature:      journalSignature,
		VersionMajor:   versionMajor,
		VersionMinor:   versionMinor,
		NumSectorsData: numPayloadSectors,
		BytesPerSector: bytesPerSector,
	}
	buf, err := info.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap("journal.create", errs.KindCorruption, err)
	}
	if err := tl.Write(ctx, j.infoSector(), padTo(buf, bytesPerSector), false); err != nil {
		return nil, errs.Wrap("journal.create", errs.KindIO, err)
	}
	if err := j.writeStatus(ctx, 0); err != nil {
		return nil, err
	}
	j.hub.Record(diagnostics.KindFormat, first, 0, "journal created")
	return j, nil
}

// Mount opens an existing journal range, validates its info sector, and
// replays any previously committed-but-unreplayed transaction before
// returning (spec.md section 4.1, "mount").
func Mount(ctx context.Context, tl sector.TranslationLayer, first, numReserved uint32, trimSupported bool) (*Journal, error) {
	bytesPerSector := tl.BytesPerSector()
	entriesPerSector, numCopyListSectors, numPayloadSectors := layout(numReserved, bytesPerSector)

	j := &Journal{
		tl:                 tl,
		first:              first,
		numReserved:        numReserved,
		bytesPerSector:     bytesPerSector,
		entriesPerSector:   entriesPerSector,
		numCopyListSectors: numCopyListSectors,
		numPayloadSectors:  numPayloadSectors,
		index:              make(map[uint32]int),
		copyList:           make([]header.JournalEntry, numPayloadSectors),
		trimSupported:      trimSupported,
		hub:                diagnostics.NewHub(0),
	}

	infoBuf := make([]byte, bytesPerSector)
	if err := tl.Read(ctx, j.infoSector(), infoBuf); err != nil {
		return nil, errs.Wrap("journal.mount", errs.KindIO, err)
	}
	var info header.JournalInfo
	if err := info.UnmarshalBinary(infoBuf); err != nil {
		return nil, errs.Wrap("journal.mount", errs.KindCorruption, err)
	}
	if info.Signature != journalSignature {
		return nil, errs.New("journal.mount", errs.KindNotFormatted, "journal signature mismatch")
	}
	if info.VersionMajor != versionMajor {
		return nil, errs.New("journal.mount", errs.KindCorruption, "journal version mismatch")
	}

	statusBuf := make([]byte, bytesPerSector)
	if err := tl.Read(ctx, j.statusSector(), statusBuf); err != nil {
		return nil, errs.Wrap("journal.mount", errs.KindIO, err)
	}
	var status header.JournalStatus
	if err := status.UnmarshalBinary(statusBuf); err != nil {
		return nil, errs.Wrap("journal.mount", errs.KindCorruption, err)
	}

	j.hub.Record(diagnostics.KindMount, first, status.SectorCnt, "journal mounted")
	if status.SectorCnt > 0 {
		if err := j.replayLocked(ctx, status.SectorCnt); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// SetOverflowCallback registers the callback invoked when a transaction's
// entry count would exceed the journal's payload capacity.
func (j *Journal) SetOverflowCallback(cb OverflowCallback) { j.overflow = cb }

// IsPresent reports whether this journal range is formatted (always true
// once Create or Mount has succeeded).
func (j *Journal) IsPresent() bool { return true }

// NumFreeSectors reports how many more payload slots this transaction can
// still hold.
func (j *Journal) NumFreeSectors() uint32 {
	used := uint32(0)
	for _, s := range j.slots {
		used += s.count
	}
	if used >= j.numPayloadSectors {
		return 0
	}
	return j.numPayloadSectors - used
}

// GetOpenCount returns the current transaction nesting depth.
func (j *Journal) GetOpenCount() uint16 { return j.openCnt }

// Diagnostics exposes the event hub for this journal instance.
func (j *Journal) Diagnostics() *diagnostics.Hub { return j.hub }

// Begin opens (or re-enters) a transaction. On the outermost open it
// resets the per-transaction error latch and entry count (spec.md section
// 4.1, "begin").
func (j *Journal) Begin(ctx context.Context) error {
	// OpenCnt is clamped at its maximum representable value, mirroring
	// emFile's JOURNAL_STATUS.OpenCnt overflow guard.
	if j.openCnt == 0x7FFF {
		return errs.New("journal.begin", errs.KindInvalidArgument, "open count at maximum")
	}
	j.openCnt++
	if j.openCnt == 1 {
		j.slots = j.slots[:0]
		for k := range j.index {
			delete(j.index, k)
		}
		j.latched = nil
	}
	return nil
}

// End closes a transaction. On the outermost close with no latched
// error, it replays and clears (commits); with a latched error, it
// discards the in-memory entries and returns that error (spec.md section
// 4.1, "Failure semantics").
func (j *Journal) End(ctx context.Context) error {
	if j.openCnt == 0 {
		return errs.New("journal.end", errs.KindInvalidArgument, "end without matching begin")
	}
	j.openCnt--
	if j.openCnt != 0 {
		return nil
	}
	if j.latched != nil {
		err := j.latched
		j.latched = nil
		j.discardLocked()
		return err
	}
	return j.clean(ctx)
}

// Write diverts a write of numSectors sectors starting at target into the
// journal (spec.md section 4.1, "write"). Idempotent for the same sector
// within a transaction: a repeat write updates the existing slot's
// payload instead of consuming a new one.
func (j *Journal) Write(ctx context.Context, target uint32, data []byte, numSectors uint32, repeatSame bool) error {
	if j.latched != nil {
		return j.latched
	}
	bps := int(j.bytesPerSector)
	if len(data) < int(numSectors)*bps {
		return errs.New("journal.write", errs.KindInvalidArgument, "data shorter than numSectors*bytesPerSector")
	}
	for i := uint32(0); i < numSectors; i++ {
		sec := target + i
		buf := make([]byte, bps)
		copy(buf, data[int(i)*bps:int(i+1)*bps])

		if idx, ok := j.index[sec]; ok && !j.slots[idx].isTrim {
			j.slots[idx].payload[0] = buf
			j.slots[idx].repeatSame = repeatSame
			if err := j.persistSlot(ctx, idx); err != nil {
				j.latched = err
				return err
			}
			continue
		}

		if err := j.ensureCapacity(ctx, 1); err != nil {
			return err
		}
		idx := len(j.slots)
		j.slots = append(j.slots, slot{sector: sec, count: 1, repeatSame: repeatSame, payload: [][]byte{buf}})
		j.index[sec] = idx
		if err := j.persistSlot(ctx, idx); err != nil {
			j.latched = err
			return err
		}
	}
	return nil
}

// Read consults J2P first (in-transaction writes), falling back to the
// underlying store for sectors not yet diverted into the journal
// (spec.md section 4.1, "read").
func (j *Journal) Read(ctx context.Context, target uint32, dst []byte, numSectors uint32) error {
	bps := int(j.bytesPerSector)
	// Batch uncached sectors into contiguous runs to minimize underlying
	// reads, per spec.md's "batched into contiguous runs" instruction.
	var runStart = -1
	flushRun := func(end uint32) error {
		if runStart < 0 {
			return nil
		}
		start := uint32(runStart)
		return j.tl.Read(ctx, start, dst[int(start-target)*bps:int(end-target)*bps])
	}
	for i := uint32(0); i < numSectors; i++ {
		sec := target + i
		if idx, ok := j.index[sec]; ok && !j.slots[idx].isTrim {
			if err := flushRun(sec); err != nil {
				return errs.Wrap("journal.read", errs.KindIO, err)
			}
			runStart = -1
			off := int(i) * bps
			copy(dst[off:off+bps], j.slots[idx].payload[0])
			continue
		}
		if runStart < 0 {
			runStart = int(sec)
		}
	}
	if err := flushRun(target + numSectors); err != nil {
		return errs.Wrap("journal.read", errs.KindIO, err)
	}
	return nil
}

// Trim records a free-range entry if the feature is enabled; otherwise it
// is a no-op success (spec.md section 4.1, "trim").
func (j *Journal) Trim(ctx context.Context, first, count uint32) error {
	if !j.trimSupported {
		return nil
	}
	if j.latched != nil {
		return j.latched
	}
	if err := j.ensureCapacity(ctx, 1); err != nil {
		return err
	}
	idx := len(j.slots)
	j.slots = append(j.slots, slot{sector: first, count: count, isTrim: true})
	j.index[first] = idx
	if err := j.persistSlot(ctx, idx); err != nil {
		j.latched = err
		return err
	}
	return nil
}

// Invalidate discards uncommitted entries without replaying them
// (spec.md section 4.1, "invalidate").
func (j *Journal) Invalidate(ctx context.Context) error {
	j.discardLocked()
	return j.writeStatus(ctx, 0)
}

// Clean forces a replay+clear outside of a transaction, used on shutdown
// (spec.md section 4.1, "clean").
func (j *Journal) Clean(ctx context.Context) error {
	return j.clean(ctx)
}

func (j *Journal) discardLocked() {
	j.slots = j.slots[:0]
	for k := range j.index {
		delete(j.index, k)
	}
}

// ensureCapacity checks whether adding n more slots would overflow the
// journal, invoking the overflow callback per spec.md section 4.1,
// "Overflow" when it would.
func (j *Journal) ensureCapacity(ctx context.Context, n uint32) error {
	used := uint32(len(j.slots))
	if used+n <= j.numPayloadSectors {
		return nil
	}
	if j.overflow == nil {
		err := errs.New("journal.write", errs.KindOutOfSpace, "journal full, no overflow callback registered")
		j.latched = err
		return err
	}
	j.stats.overflowCnt++
	j.hub.Record(diagnostics.KindOverflow, 0, used, "journal overflow")
	switch j.overflow(j) {
	case OverflowFlush:
		if err := j.clean(ctx); err != nil {
			j.latched = err
			return err
		}
		return nil
	default: // OverflowAbort
		err := errs.New("journal.write", errs.KindOutOfSpace, "transaction aborted on overflow")
		j.latched = err
		return err
	}
}

// persistSlot durably writes one slot's payload (if any) and its
// copy-list entry to the journal's reserved range. The status sector is
// deliberately NOT touched here: it is written last, on commit, per
// spec.md's "Commit ordering contract".
func (j *Journal) persistSlot(ctx context.Context, idx int) error {
	s := j.slots[idx]
	if !s.isTrim {
		payloadBuf := make([]byte, 0, int(s.count)*int(j.bytesPerSector))
		for _, p := range s.payload {
			payloadBuf = append(payloadBuf, p...)
		}
		if err := j.tl.Write(ctx, j.payloadSector(uint32(idx)), payloadBuf, s.repeatSame); err != nil {
			return errs.Wrap("journal.persist", errs.KindIO, err)
		}
	}
	entry := header.JournalEntry{SectorIndex: s.sector, RunLength: s.count}
	if s.isTrim {
		entry.TrimFlag = 1
	}
	if int(idx) >= len(j.copyList) {
		return errs.New("journal.persist", errs.KindOutOfSpace, "copy-list index out of range")
	}
	j.copyList[idx] = entry
	return j.flushCopyListSectorFor(ctx, uint32(idx))
}

// flushCopyListSectorFor rewrites the one copy-list sector containing
// slot index idx from the in-RAM copyList.
func (j *Journal) flushCopyListSectorFor(ctx context.Context, idx uint32) error {
	sectorIdx := idx / j.entriesPerSector
	startEntry := sectorIdx * j.entriesPerSector
	buf := make([]byte, j.bytesPerSector)
	for i := uint32(0); i < j.entriesPerSector; i++ {
		entryIdx := startEntry + i
		if entryIdx >= uint32(len(j.copyList)) {
			break
		}
		eb, err := j.copyList[entryIdx].MarshalBinary()
		if err != nil {
			return errs.Wrap("journal.persist", errs.KindCorruption, err)
		}
		copy(buf[i*header.JournalEntrySize:], eb)
	}
	if err := j.tl.Write(ctx, j.copyListSector(sectorIdx), buf, false); err != nil {
		return errs.Wrap("journal.persist", errs.KindIO, err)
	}
	return nil
}

// writeStatus writes the status sector, the journal's sole atomicity
// witness (spec.md section 4.1, "Commit ordering contract").
func (j *Journal) writeStatus(ctx context.Context, sectorCnt uint32) error {
	if sectorCnt > 0 {
		j.stats.sectorCntTotal += uint64(sectorCnt)
	}
	status := header.JournalStatus{
		NumSectorsData:        j.numPayloadSectors,
		BytesPerSector:        j.bytesPerSector,
		PBIInfoSector:         j.infoSector(),
		PBIStatusSector:       j.statusSector(),
		PBIStartSectorList:    j.copyListSector(0),
		PBIFirstDataSector:    j.payloadSector(0),
		SectorCnt:             sectorCnt,
		SectorCntTotal:        uint32(j.stats.sectorCntTotal),
		OpenCnt:               j.openCnt,
		IsPresent:             1,
		IsFreeSectorSupported: boolToU8(j.trimSupported),
	}
	buf, err := status.MarshalBinary()
	if err != nil {
		return errs.Wrap("journal.write_status", errs.KindCorruption, err)
	}
	if err := j.tl.Write(ctx, j.statusSector(), padTo(buf, j.bytesPerSector), false); err != nil {
		return errs.Wrap("journal.write_status", errs.KindIO, err)
	}
	return nil
}

// clean commits the current transaction's entries (writing the status
// sector last) and then replays them into the underlying store
// (spec.md section 4.1, "end" / "clean").
func (j *Journal) clean(ctx context.Context) error {
	if len(j.slots) == 0 {
		return nil
	}
	cnt := uint32(len(j.slots))
	if err := j.writeStatus(ctx, cnt); err != nil {
		return err
	}
	j.stats.cleanCnt++
	return j.replayLocked(ctx, cnt)
}

// replayLocked implements spec.md section 4.1's replay algorithm: read
// the copy list, push every entry's payload (or trim) into the
// underlying store, clear the status sector, and reset RAM state. It is
// used both at mount time (for a journal left committed-but-unreplayed
// by a crash) and at commit time (clean).
func (j *Journal) replayLocked(ctx context.Context, numEntries uint32) error {
	j.stats.replayCnt++
	for i := uint32(0); i < numEntries; i++ {
		sectorIdx := i / j.entriesPerSector
		buf := make([]byte, j.bytesPerSector)
		if err := j.tl.Read(ctx, j.copyListSector(sectorIdx), buf); err != nil {
			return errs.Wrap("journal.replay", errs.KindIO, err)
		}
		off := (i % j.entriesPerSector) * header.JournalEntrySize
		var entry header.JournalEntry
		if err := entry.UnmarshalBinary(buf[off : off+header.JournalEntrySize]); err != nil {
			return errs.Wrap("journal.replay", errs.KindCorruption, err)
		}

		if entry.TrimFlag != 0 {
			if err := j.tl.Trim(ctx, entry.SectorIndex, entry.RunLength); err != nil {
				return errs.Wrap("journal.replay", errs.KindIO, err)
			}
			continue
		}
		payload := make([]byte, int(entry.RunLength)*int(j.bytesPerSector))
		if err := j.tl.Read(ctx, j.payloadSector(i), payload); err != nil {
			return errs.Wrap("journal.replay", errs.KindIO, err)
		}
		if err := j.tl.Write(ctx, entry.SectorIndex, payload, entry.RunLength == 1); err != nil {
			return errs.Wrap("journal.replay", errs.KindIO, err)
		}
	}
	// Two-phase clear: the status sector is the first thing cleared on
	// replay completion, only after every payload write above is durable.
	if err := j.writeStatus(ctx, 0); err != nil {
		return err
	}
	j.discardLocked()
	for i := range j.copyList {
		j.copyList[i] = header.JournalEntry{}
	}
	j.hub.Record(diagnostics.KindReplay, 0, numEntries, "journal replayed")
	return nil
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func padTo(buf []byte, size uint32) []byte {
	if uint32(len(buf)) >= size {
		return buf[:size]
	}
	out := make([]byte, size)
	copy(out, buf)
	return out
}
