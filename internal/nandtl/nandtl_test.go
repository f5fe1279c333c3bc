package nandtl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashcore/internal/nandtl"
	"flashcore/internal/physical/sim"
	"flashcore/internal/sector"
)

func testInfo() sector.NANDDeviceInfo {
	return sector.NANDDeviceInfo{
		NumBlocks:     16,
		PagesPerBlock: 8,
		BytesPerPage:  1024,
		BytesPerSpare: 32,
		LargePage:     true,
	}
}

func mountedTL(t *testing.T, cfg nandtl.Config) (*nandtl.TL, *sim.NAND) {
	t.Helper()
	ctx := context.Background()
	dev := sim.NewNAND(testInfo(), nil)
	require.NoError(t, nandtl.FormatLowLevel(ctx, dev, cfg))
	tl := nandtl.New(dev, cfg)
	require.NoError(t, tl.Mount(ctx))
	return tl, dev
}

func fillPayload(bps uint32, b byte) []byte {
	buf := make([]byte, bps)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func Test_Mount_Fails_Before_Format(t *testing.T) {
	t.Parallel()

	dev := sim.NewNAND(testInfo(), nil)
	tl := nandtl.New(dev, nandtl.DefaultConfig())

	err := tl.Mount(context.Background())

	assert.Error(t, err)
}

func Test_Write_Then_Read_Round_Trips(t *testing.T) {
	t.Parallel()

	tl, _ := mountedTL(t, nandtl.DefaultConfig())
	ctx := context.Background()
	bps := tl.BytesPerSector()
	payload := fillPayload(bps, 0xAB)

	require.NoError(t, tl.Write(ctx, 3, payload, false))

	got := make([]byte, bps)
	require.NoError(t, tl.Read(ctx, 3, got))
	assert.Equal(t, payload, got)
}

func Test_Read_Unwritten_Sector_Is_Blank(t *testing.T) {
	t.Parallel()

	tl, _ := mountedTL(t, nandtl.DefaultConfig())
	got := make([]byte, tl.BytesPerSector())

	require.NoError(t, tl.Read(context.Background(), 5, got))

	for _, b := range got {
		assert.Equal(t, byte(0xFF), b)
	}
}

func Test_Trim_Then_Read_Is_Blank(t *testing.T) {
	t.Parallel()

	tl, _ := mountedTL(t, nandtl.DefaultConfig())
	ctx := context.Background()
	bps := tl.BytesPerSector()
	require.NoError(t, tl.Write(ctx, 2, fillPayload(bps, 0x11), false))

	require.NoError(t, tl.Trim(ctx, 2, 1))

	got := make([]byte, bps)
	require.NoError(t, tl.Read(ctx, 2, got))
	for _, b := range got {
		assert.Equal(t, byte(0xFF), b)
	}
}

func Test_Trim_After_Conversion_To_Data_Block_Is_Blank(t *testing.T) {
	t.Parallel()

	// A single work block slot so that writing a sector in a different
	// logical block forces the LRU (logical block 0) to convert from a
	// work block into a data block before we trim it.
	cfg := nandtl.Config{NumWorkBlocks: 1, WearLevelThreshold: 64, RelocationCorrectedThreshold: 3}
	tl, _ := mountedTL(t, cfg)
	ctx := context.Background()
	bps := tl.BytesPerSector()

	for brsi := uint32(0); brsi < 8; brsi++ {
		require.NoError(t, tl.Write(ctx, brsi, fillPayload(bps, byte(brsi)), false))
	}
	// Evicts logical block 0's work block, converting it in place.
	require.NoError(t, tl.Write(ctx, 8, fillPayload(bps, 0x99), false))

	got := make([]byte, bps)
	require.NoError(t, tl.Read(ctx, 2, got))
	require.Equal(t, fillPayload(bps, 2), got, "sector must still read back before trim")

	require.NoError(t, tl.Trim(ctx, 2, 1))

	require.NoError(t, tl.Read(ctx, 2, got))
	for _, b := range got {
		assert.Equal(t, byte(0xFF), b)
	}

	// A sibling sector in the same converted data block is unaffected.
	require.NoError(t, tl.Read(ctx, 3, got))
	assert.Equal(t, fillPayload(bps, 3), got)
}

func Test_Full_Logical_Block_Write_Round_Trips(t *testing.T) {
	t.Parallel()

	cfg := nandtl.Config{NumWorkBlocks: 2, WearLevelThreshold: 64, RelocationCorrectedThreshold: 3}
	tl, _ := mountedTL(t, cfg)
	ctx := context.Background()
	bps := tl.BytesPerSector()

	// testInfo has 8 pages per block: write every sector of logical block
	// 0 at its native page position.
	for brsi := uint32(0); brsi < 8; brsi++ {
		payload := fillPayload(bps, byte(brsi))
		require.NoError(t, tl.Write(ctx, brsi, payload, false))
	}

	for brsi := uint32(0); brsi < 8; brsi++ {
		got := make([]byte, bps)
		require.NoError(t, tl.Read(ctx, brsi, got))
		assert.Equal(t, fillPayload(bps, byte(brsi)), got)
	}
}

func Test_Rewrite_Same_Sector_Keeps_Latest_Value(t *testing.T) {
	t.Parallel()

	tl, _ := mountedTL(t, nandtl.DefaultConfig())
	ctx := context.Background()
	bps := tl.BytesPerSector()

	require.NoError(t, tl.Write(ctx, 1, fillPayload(bps, 0x01), false))
	require.NoError(t, tl.Write(ctx, 1, fillPayload(bps, 0x02), false))

	got := make([]byte, bps)
	require.NoError(t, tl.Read(ctx, 1, got))
	assert.Equal(t, fillPayload(bps, 0x02), got)
}

func Test_IOCtl_SetReadOnly_Blocks_Writes(t *testing.T) {
	t.Parallel()

	tl, _ := mountedTL(t, nandtl.DefaultConfig())
	ctx := context.Background()

	_, err := tl.IOCtl(sector.IOCtlSetReadOnly, nil)
	require.NoError(t, err)

	err = tl.Write(ctx, 0, fillPayload(tl.BytesPerSector(), 0x1), false)
	assert.Error(t, err)
}

func Test_IOCtl_GetDeviceInfo_Reports_Geometry(t *testing.T) {
	t.Parallel()

	tl, _ := mountedTL(t, nandtl.DefaultConfig())

	raw, err := tl.IOCtl(sector.IOCtlGetDeviceInfo, nil)
	require.NoError(t, err)

	info, ok := raw.(sector.DeviceInfo)
	require.True(t, ok)
	assert.Equal(t, tl.NumLogicalSectors(), info.NumLogicalSectors)
	assert.Equal(t, tl.BytesPerSector(), info.BytesPerSector)
	assert.False(t, info.ReadOnly)
}

func Test_Write_Rejects_Misaligned_Payload(t *testing.T) {
	t.Parallel()

	tl, _ := mountedTL(t, nandtl.DefaultConfig())

	err := tl.Write(context.Background(), 0, make([]byte, 3), false)

	assert.Error(t, err)
}

func Test_Mount_Skips_Manufacturer_Bad_Block(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dev := sim.NewNAND(testInfo(), nil)
	dev.MarkHardwareBad(5)
	require.NoError(t, nandtl.FormatLowLevel(ctx, dev, nandtl.DefaultConfig()))

	tl := nandtl.New(dev, nandtl.DefaultConfig())

	require.NoError(t, tl.Mount(ctx))
	assert.Greater(t, tl.NumLogicalSectors(), uint32(0))
}
