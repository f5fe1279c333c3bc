package diagnostics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashcore/internal/diagnostics"
)

func Test_NewHub_Defaults_Capacity(t *testing.T) {
	t.Parallel()

	hub := diagnostics.NewHub(0)

	for i := 0; i < 300; i++ {
		hub.Record(diagnostics.KindGC, uint32(i), 0, "")
	}

	assert.Len(t, hub.Recent(0), 256, "default capacity should retain exactly 256 events")
}

func Test_Hub_Recent_Returns_Oldest_First_Within_Window(t *testing.T) {
	t.Parallel()

	hub := diagnostics.NewHub(3)

	hub.Record(diagnostics.KindMount, 1, 0, "a")
	hub.Record(diagnostics.KindMount, 2, 0, "b")
	hub.Record(diagnostics.KindMount, 3, 0, "c")
	hub.Record(diagnostics.KindMount, 4, 0, "d") // evicts "a"

	recent := hub.Recent(0)

	require.Len(t, recent, 3)
	assert.Equal(t, []uint32{2, 3, 4}, []uint32{recent[0].Sector, recent[1].Sector, recent[2].Sector})
}

func Test_Hub_Recent_Respects_Limit(t *testing.T) {
	t.Parallel()

	hub := diagnostics.NewHub(10)
	for i := 0; i < 5; i++ {
		hub.Record(diagnostics.KindReplay, uint32(i), 0, "")
	}

	recent := hub.Recent(2)

	require.Len(t, recent, 2)
	assert.Equal(t, uint32(3), recent[0].Sector)
	assert.Equal(t, uint32(4), recent[1].Sector)
}

func Test_Hub_Count_Tracks_Lifetime_Per_Kind(t *testing.T) {
	t.Parallel()

	hub := diagnostics.NewHub(2)
	hub.Record(diagnostics.KindGC, 0, 0, "")
	hub.Record(diagnostics.KindGC, 0, 0, "")
	hub.Record(diagnostics.KindGC, 0, 0, "") // evicted from the ring, still counted
	hub.Record(diagnostics.KindReplay, 0, 0, "")

	assert.Equal(t, uint64(3), hub.Count(diagnostics.KindGC))
	assert.Equal(t, uint64(1), hub.Count(diagnostics.KindReplay))
	assert.Equal(t, uint64(0), hub.Count(diagnostics.KindOverflow))
}

func Test_Hub_Reset_Clears_Everything(t *testing.T) {
	t.Parallel()

	hub := diagnostics.NewHub(4)
	hub.Record(diagnostics.KindFormat, 0, 0, "")

	hub.Reset()

	assert.Equal(t, uint64(0), hub.Count(diagnostics.KindFormat))
	assert.Empty(t, hub.Recent(0))
	assert.Equal(t, "no events recorded", hub.Summary())
}

func Test_Hub_Summary_Lists_NonZero_Kinds(t *testing.T) {
	t.Parallel()

	hub := diagnostics.NewHub(8)
	hub.Record(diagnostics.KindGC, 0, 0, "")
	hub.Record(diagnostics.KindGC, 0, 0, "")
	hub.Record(diagnostics.KindBadBlockMarked, 0, 0, "")

	summary := hub.Summary()

	assert.Contains(t, summary, "3 events recorded")
	assert.Contains(t, summary, "2 gc")
	assert.Contains(t, summary, "1 bad_block_marked")
}

func Test_FormatBytes_Humanizes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2.0 kB", diagnostics.FormatBytes(2000))
}

func Test_Kind_String(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		kind diagnostics.Kind
		want string
	}{
		{diagnostics.KindReplay, "replay"},
		{diagnostics.KindOverflow, "overflow"},
		{diagnostics.KindGC, "gc"},
		{diagnostics.KindWearLevelPassive, "wear_level_passive"},
		{diagnostics.KindWearLevelActive, "wear_level_active"},
		{diagnostics.KindBadBlockMarked, "bad_block_marked"},
		{diagnostics.KindRelocation, "relocation"},
		{diagnostics.KindFatalError, "fatal_error"},
		{diagnostics.KindFormat, "format"},
		{diagnostics.KindMount, "mount"},
		{diagnostics.Kind(200), "unknown"},
	}

	for _, testCase := range testCases {
		assert.Equal(t, testCase.want, testCase.kind.String())
	}
}
