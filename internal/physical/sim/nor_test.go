package sim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashcore/internal/physical/sim"
)

func Test_NewNOR_Is_Erased(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(4, 256, nil)

	got := make([]byte, 256)
	require.NoError(t, n.ReadOff(0, got))
	for _, b := range got {
		assert.Equal(t, byte(0xFF), b)
	}
}

func Test_NOR_ProgramOff_Then_ReadOff_Round_Trips(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(4, 256, nil)
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	require.NoError(t, n.ProgramOff(32, payload))

	got := make([]byte, 16)
	require.NoError(t, n.ReadOff(32, got))
	assert.Equal(t, payload, got)
}

func Test_NOR_ProgramOff_Can_Only_Clear_Bits(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(1, 256, nil)
	require.NoError(t, n.ProgramOff(0, []byte{0x0F}))
	require.NoError(t, n.ProgramOff(0, []byte{0xF0}))

	got := make([]byte, 1)
	require.NoError(t, n.ReadOff(0, got))
	assert.Equal(t, byte(0x00), got[0])
}

func Test_NOR_EraseSector_Restores_Blank_State(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(2, 128, nil)
	require.NoError(t, n.ProgramOff(0, []byte{0x00, 0x00}))

	require.NoError(t, n.EraseSector(0))

	got := make([]byte, 2)
	require.NoError(t, n.ReadOff(0, got))
	assert.Equal(t, []byte{0xFF, 0xFF}, got)
}

func Test_NOR_GetSectorInfo_Reports_Offset_And_Size(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(4, 256, nil)

	info, err := n.GetSectorInfo(2)

	require.NoError(t, err)
	assert.Equal(t, int64(512), info.Offset)
	assert.Equal(t, uint32(256), info.Size)
	assert.Equal(t, 4, n.GetNumSectors())
}

func Test_NOR_Operations_Reject_Hardware_Bad_Sector(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(2, 128, nil)
	n.MarkHardwareBad(0)

	assert.Error(t, n.ProgramOff(0, []byte{0x00}))
	assert.Error(t, n.EraseSector(0))
}

func Test_NOR_ProgramOff_Rejected_When_Write_Protected(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(1, 128, nil)
	n.SetWriteProtected(true)

	assert.Error(t, n.ProgramOff(0, []byte{0x00}))
	assert.Error(t, n.EraseSector(0))
}

func Test_NOR_Operations_Reject_Out_Of_Range(t *testing.T) {
	t.Parallel()

	n := sim.NewNOR(2, 128, nil)

	assert.Error(t, n.ReadOff(-1, make([]byte, 4)))
	assert.Error(t, n.ReadOff(1000, make([]byte, 4)))
	_, err := n.GetSectorInfo(99)
	assert.Error(t, err)
}
