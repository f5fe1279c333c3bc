package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Fault_NoOp_Mode_Never_Injects(t *testing.T) {
	t.Parallel()

	f := NewFault(1, FaultConfig{BitFlipRate: 1, ProgramInterruptRate: 1, EraseInterruptRate: 1, BadBlockDevelopRate: 1})
	f.SetMode(ModeNoOp)

	assert.False(t, f.should(1))
	torn, landed := f.maybeTearProgram(10)
	assert.False(t, torn)
	assert.Equal(t, 10, landed)
	assert.False(t, f.maybeTearErase())
	assert.False(t, f.maybeDevelopBadBlock())
}

func Test_Fault_Active_Mode_Always_Injects_At_Rate_One(t *testing.T) {
	t.Parallel()

	f := NewFault(42, FaultConfig{BitFlipRate: 1})
	f.SetMode(ModeActive)

	data := make([]byte, 16)
	flips := f.maybeBitFlip(data)

	require.Equal(t, 1, flips)
	assert.NotEqual(t, make([]byte, 16), data, "exactly one bit should have flipped")
	assert.Equal(t, uint64(1), f.Stats().BitFlips)
}

func Test_Fault_DoubleBitFlip_Takes_Priority_Over_Single(t *testing.T) {
	t.Parallel()

	f := NewFault(7, FaultConfig{BitFlipRate: 1, DoubleBitFlipRate: 1})
	f.SetMode(ModeActive)

	data := make([]byte, 16)
	flips := f.maybeBitFlip(data)

	assert.Equal(t, 2, flips)
	assert.Equal(t, uint64(1), f.Stats().DoubleBitFlips)
	assert.Equal(t, uint64(0), f.Stats().BitFlips)
}

func Test_Fault_TearProgram_Lands_Fewer_Than_Requested_Bytes(t *testing.T) {
	t.Parallel()

	f := NewFault(3, FaultConfig{ProgramInterruptRate: 1})
	f.SetMode(ModeActive)

	torn, landed := f.maybeTearProgram(100)

	assert.True(t, torn)
	assert.GreaterOrEqual(t, landed, 0)
	assert.Less(t, landed, 100)
	assert.Equal(t, uint64(1), f.Stats().ProgramInterrupts)
}

func Test_Fault_SetConfig_Replaces_Rates(t *testing.T) {
	t.Parallel()

	f := NewFault(1, FaultConfig{})
	f.SetMode(ModeActive)
	assert.False(t, f.maybeTearErase())

	f.SetConfig(FaultConfig{EraseInterruptRate: 1})
	assert.True(t, f.maybeTearErase())
}

func Test_FlipBits_Flips_Exactly_N_Distinct_Bits(t *testing.T) {
	t.Parallel()

	f := NewFault(9, FaultConfig{})
	original := make([]byte, 8)
	data := make([]byte, 8)

	f.flipBits(data, 3)

	diff := 0
	for i := range data {
		x := data[i] ^ original[i]
		for x != 0 {
			diff += int(x & 1)
			x >>= 1
		}
	}
	assert.Equal(t, 3, diff)
}
