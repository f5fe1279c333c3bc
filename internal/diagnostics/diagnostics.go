// Package diagnostics is a small event hub for the core translation
// layers; its only third-party import is go-humanize. It keeps a bounded
// ring of recent events (replays, garbage collections, wear-leveling moves,
// bad-block marks, fatal errors) plus per-kind counters, and is read back
// through the IOCtlGetStatistics ioctl (and, on a journaled volume,
// IOCtlGetCleanCnt, which reports the journal hub's replay count) instead
// of being printed directly.
//
// The core (journal/nandtl/nortl) is single-threaded per spec.md section 5,
// so unlike the server-side hub this adapts from, there is no internal
// locking here: callers are expected to be the same serialized caller that
// owns the translation-layer instance.
package diagnostics

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind identifies the category of a recorded Event.
type Kind byte

const (
	KindReplay Kind = iota
	KindOverflow
	KindGC
	KindWearLevelPassive
	KindWearLevelActive
	KindBadBlockMarked
	KindRelocation
	KindFatalError
	KindFormat
	KindMount
)

func (k Kind) String() string {
	switch k {
	case KindReplay:
		return "replay"
	case KindOverflow:
		return "overflow"
	case KindGC:
		return "gc"
	case KindWearLevelPassive:
		return "wear_level_passive"
	case KindWearLevelActive:
		return "wear_level_active"
	case KindBadBlockMarked:
		return "bad_block_marked"
	case KindRelocation:
		return "relocation"
	case KindFatalError:
		return "fatal_error"
	case KindFormat:
		return "format"
	case KindMount:
		return "mount"
	default:
		return "unknown"
	}
}

// Event is one recorded occurrence in the hub's ring buffer.
type Event struct {
	Seq     uint64
	At      time.Time
	Kind    Kind
	Sector  uint32
	Extra   uint32
	Message string
}

// Hub keeps the last N events and a lifetime count per Kind.
type Hub struct {
	ring    []Event
	cap     int
	nextPos int
	count   int
	nextSeq uint64
	byKind  [32]uint64
}

// NewHub returns a Hub retaining up to capacity recent events. A capacity
// <= 0 defaults to 256.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		cap:  capacity,
	}
}

// Record appends an event to the ring and bumps the per-kind counter.
func (h *Hub) Record(kind Kind, sector, extra uint32, message string) {
	h.nextSeq++
	e := Event{
		Seq:     h.nextSeq,
		At:      time.Now(),
		Kind:    kind,
		Sector:  sector,
		Extra:   extra,
		Message: message,
	}
	h.ring[h.nextPos] = e
	h.nextPos = (h.nextPos + 1) % h.cap
	if h.count < h.cap {
		h.count++
	}
	if int(kind) < len(h.byKind) {
		h.byKind[kind]++
	}
}

// Count returns the lifetime number of events recorded for kind.
func (h *Hub) Count(kind Kind) uint64 {
	if int(kind) >= len(h.byKind) {
		return 0
	}
	return h.byKind[kind]
}

// Recent returns up to limit of the most recently recorded events, oldest
// first. limit <= 0 returns every retained event.
func (h *Hub) Recent(limit int) []Event {
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	if limit == 0 {
		return nil
	}
	start := h.nextPos - h.count
	if start < 0 {
		start += h.cap
	}
	start = (start + (h.count - limit)) % h.cap

	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, h.ring[(start+i)%h.cap])
	}
	return out
}

// FormatBytes renders n as a human-readable size ("2.0 kB", "1.3 MB"),
// for the flashctl stat command and any other capacity/usage reporting
// that would otherwise print a raw byte count.
func FormatBytes(n uint64) string {
	return humanize.Bytes(n)
}

// Summary renders a one-line count of every non-zero event kind recorded
// so far, oldest-registered kind first, with comma-grouped counts.
func (h *Hub) Summary() string {
	if h.nextSeq == 0 {
		return "no events recorded"
	}
	s := fmt.Sprintf("%s events recorded", humanize.Comma(int64(h.nextSeq)))
	for k := Kind(0); int(k) < len(h.byKind); k++ {
		if h.byKind[k] == 0 {
			continue
		}
		s += fmt.Sprintf(", %s %s", humanize.Comma(int64(h.byKind[k])), k)
	}
	return s
}

// Reset clears retained events and counters in place.
func (h *Hub) Reset() {
	h.nextPos = 0
	h.count = 0
	h.nextSeq = 0
	h.byKind = [32]uint64{}
	for i := range h.ring {
		h.ring[i] = Event{}
	}
}
