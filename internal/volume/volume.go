// Package volume implements the upper (file-system) interface of spec.md
// section 6: the thin glue that binds a translation layer (NAND or NOR)
// to its optional journal and exposes the operations a caller actually
// drives — init_medium, read, write, ioctl, get_status — plus the
// journal's begin/end/invalidate/clean transaction surface.
//
// There is deliberately very little logic here: spec.md section 6 notes
// "there are no direct user-visible CLI commands in the core," so this
// package is the seam cmd/flashctl programs against, not a place for
// translation-layer or journal policy.
package volume

import (
	"context"
	"log"

	"flashcore/internal/errs"
	"flashcore/internal/journal"
	"flashcore/internal/sector"
)

// Volume is one mounted logical-sector device, optionally journaled.
type Volume struct {
	Name string

	tl  sector.TranslationLayer
	jr  *journal.Journal
	log *log.Logger

	journaled     bool
	trimSupported bool
	numReserved   uint32
}

// Options configures how New binds a journal over tl.
type Options struct {
	// Journaled enables the write-ahead journal over a reserved range of
	// tl's own logical-sector space (spec.md section 4.1).
	Journaled     bool
	NumReserved   uint32
	TrimSupported bool
	Logger        *log.Logger
}

// New constructs an unmounted Volume over tl.
func New(name string, tl sector.TranslationLayer, opts Options) *Volume {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	return &Volume{
		Name:          name,
		tl:            tl,
		log:           lg,
		journaled:     opts.Journaled,
		trimSupported: opts.TrimSupported,
		numReserved:   opts.NumReserved,
	}
}

// Mount implements "init_medium": it mounts the translation layer, then
// mounts (or creates, on first use) the journal over its reserved range.
func (v *Volume) Mount(ctx context.Context) error {
	if err := v.tl.Mount(ctx); err != nil {
		return err
	}
	if !v.journaled {
		v.log.Printf("volume %s: mounted (unjournaled), %d logical sectors", v.Name, v.tl.NumLogicalSectors())
		return nil
	}
	first := v.tl.NumLogicalSectors() - v.numReserved
	jr, err := journal.Mount(ctx, v.tl, first, v.numReserved, v.trimSupported)
	if errs.IsKind(err, errs.KindNotFormatted) {
		jr, err = journal.Create(ctx, v.tl, first, v.numReserved, v.trimSupported)
	}
	if err != nil {
		return err
	}
	v.jr = jr
	v.log.Printf("volume %s: mounted with journal, %d data sectors", v.Name, first)
	return nil
}

// Unmount releases the translation layer's scratch buffers.
func (v *Volume) Unmount() error {
	return v.tl.Unmount()
}

// NumLogicalSectors reports the data-sector count available to callers,
// excluding the journal's own reserved range.
func (v *Volume) NumLogicalSectors() uint32 {
	if v.jr == nil {
		return v.tl.NumLogicalSectors()
	}
	return v.tl.NumLogicalSectors() - v.numReserved
}

// BytesPerSector implements "init_medium"'s geometry surface.
func (v *Volume) BytesPerSector() uint32 { return v.tl.BytesPerSector() }

// Read implements "read(unit, sector, buf, n)".
func (v *Volume) Read(ctx context.Context, sec uint32, dst []byte) error {
	if v.jr != nil {
		n := uint32(len(dst)) / v.tl.BytesPerSector()
		return v.jr.Read(ctx, sec, dst, n)
	}
	return v.tl.Read(ctx, sec, dst)
}

// Write implements "write(unit, sector, buf, n, repeat_same)".
func (v *Volume) Write(ctx context.Context, sec uint32, data []byte, repeatSame bool) error {
	if v.jr != nil {
		n := uint32(len(data)) / v.tl.BytesPerSector()
		return v.jr.Write(ctx, sec, data, n, repeatSame)
	}
	return v.tl.Write(ctx, sec, data, repeatSame)
}

// Trim marks a logical-sector range as no longer meaningful.
func (v *Volume) Trim(ctx context.Context, first, count uint32) error {
	if v.jr != nil {
		return v.jr.Trim(ctx, first, count)
	}
	return v.tl.Trim(ctx, first, count)
}

// IOCtl implements "ioctl(unit, cmd, aux, buf)", delegating to the
// translation layer for every command except the journal-aware ones.
func (v *Volume) IOCtl(cmd sector.IOCtl, arg interface{}) (interface{}, error) {
	switch cmd {
	case sector.IOCtlGetCleanCnt:
		if v.jr == nil {
			return uint64(0), nil
		}
		return v.jr.Diagnostics().Count(0), nil // KindReplay == 0
	default:
		return v.tl.IOCtl(cmd, arg)
	}
}

// GetStatus implements "get_status(unit)": a media-present indicator.
func (v *Volume) GetStatus() bool { return v.jr == nil || v.jr.IsPresent() }

// Begin opens a journal transaction. It is a no-op on an unjournaled
// volume (spec.md section 6, "Journal interface to the volume").
func (v *Volume) Begin(ctx context.Context) error {
	if v.jr == nil {
		return nil
	}
	return v.jr.Begin(ctx)
}

// End closes a journal transaction, committing and replaying on the
// outermost close.
func (v *Volume) End(ctx context.Context) error {
	if v.jr == nil {
		return nil
	}
	return v.jr.End(ctx)
}

// Invalidate discards an in-progress transaction without replaying it.
func (v *Volume) Invalidate(ctx context.Context) error {
	if v.jr == nil {
		return nil
	}
	return v.jr.Invalidate(ctx)
}

// Clean forces a replay+clear outside of a transaction (used on orderly
// shutdown).
func (v *Volume) Clean(ctx context.Context) error {
	if v.jr == nil {
		return nil
	}
	return v.jr.Clean(ctx)
}

// NumFreeSectors reports the journal's remaining transaction capacity, or
// the full data range on an unjournaled volume.
func (v *Volume) NumFreeSectors() uint32 {
	if v.jr == nil {
		return v.NumLogicalSectors()
	}
	return v.jr.NumFreeSectors()
}

// SetOverflowCallback registers the journal's overflow decision callback.
func (v *Volume) SetOverflowCallback(cb journal.OverflowCallback) {
	if v.jr != nil {
		v.jr.SetOverflowCallback(cb)
	}
}
