package volume_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashcore/internal/nortl"
	"flashcore/internal/physical/sim"
	"flashcore/internal/sector"
	"flashcore/internal/volume"
)

func freshBackend(t *testing.T) *nortl.TL {
	t.Helper()
	ctx := context.Background()
	dev := sim.NewNOR(32, 1024, nil)
	require.NoError(t, nortl.FormatLowLevel(ctx, dev, 64))
	return nortl.New(dev, nortl.DefaultConfig())
}

func fillPayload(bps uint32, b byte) []byte {
	buf := make([]byte, bps)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func Test_Unjournaled_Volume_Write_Read_Round_Trips(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	v := volume.New("data", tl, volume.Options{})
	ctx := context.Background()
	require.NoError(t, v.Mount(ctx))

	bps := v.BytesPerSector()
	payload := fillPayload(bps, 0x5A)
	require.NoError(t, v.Write(ctx, 0, payload, false))

	got := make([]byte, bps)
	require.NoError(t, v.Read(ctx, 0, got))
	assert.Equal(t, payload, got)
	assert.True(t, v.GetStatus())
}

func Test_Journaled_Volume_Mounts_And_Creates_Journal_On_First_Use(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	ctx := context.Background()

	v := volume.New("data", tl, volume.Options{Journaled: true, NumReserved: 10, TrimSupported: true})
	require.NoError(t, v.Mount(ctx))

	assert.Equal(t, tl.NumLogicalSectors()-10, v.NumLogicalSectors())
	assert.True(t, v.GetStatus())
}

func Test_Journaled_Volume_Write_Is_Durable_After_End(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	ctx := context.Background()
	v := volume.New("data", tl, volume.Options{Journaled: true, NumReserved: 10, TrimSupported: true})
	require.NoError(t, v.Mount(ctx))

	bps := v.BytesPerSector()
	payload := fillPayload(bps, 0x11)

	require.NoError(t, v.Begin(ctx))
	require.NoError(t, v.Write(ctx, 0, payload, false))
	require.NoError(t, v.End(ctx))

	got := make([]byte, bps)
	require.NoError(t, v.Read(ctx, 0, got))
	assert.Equal(t, payload, got)
}

func Test_Journaled_Volume_Remount_Sees_Same_Journal(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	ctx := context.Background()
	v := volume.New("data", tl, volume.Options{Journaled: true, NumReserved: 10, TrimSupported: true})
	require.NoError(t, v.Mount(ctx))
	require.NoError(t, v.Unmount())

	v2 := volume.New("data", tl, volume.Options{Journaled: true, NumReserved: 10, TrimSupported: true})
	require.NoError(t, v2.Mount(ctx))
	assert.True(t, v2.GetStatus())
}

func Test_IOCtl_GetCleanCnt_Zero_On_Unjournaled_Volume(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	v := volume.New("data", tl, volume.Options{})
	require.NoError(t, v.Mount(context.Background()))

	got, err := v.IOCtl(sector.IOCtlGetCleanCnt, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
}

func Test_IOCtl_Delegates_GetDeviceInfo_To_TranslationLayer(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	v := volume.New("data", tl, volume.Options{})
	require.NoError(t, v.Mount(context.Background()))

	got, err := v.IOCtl(sector.IOCtlGetDeviceInfo, nil)
	require.NoError(t, err)

	info, ok := got.(sector.DeviceInfo)
	require.True(t, ok)
	assert.Equal(t, v.NumLogicalSectors(), info.NumLogicalSectors)
}

func Test_Invalidate_Discards_Without_Committing(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	ctx := context.Background()
	v := volume.New("data", tl, volume.Options{Journaled: true, NumReserved: 10, TrimSupported: true})
	require.NoError(t, v.Mount(ctx))

	bps := v.BytesPerSector()
	require.NoError(t, v.Begin(ctx))
	require.NoError(t, v.Write(ctx, 1, fillPayload(bps, 0x33), false))
	require.NoError(t, v.Invalidate(ctx))

	got := make([]byte, bps)
	require.NoError(t, tl.Read(ctx, 1, got))
	assert.NotEqual(t, fillPayload(bps, 0x33), got)
}

func Test_Unjournaled_Begin_End_Are_NoOps(t *testing.T) {
	t.Parallel()

	tl := freshBackend(t)
	v := volume.New("data", tl, volume.Options{})
	require.NoError(t, v.Mount(context.Background()))

	ctx := context.Background()
	assert.NoError(t, v.Begin(ctx))
	assert.NoError(t, v.End(ctx))
	assert.NoError(t, v.Invalidate(ctx))
	assert.NoError(t, v.Clean(ctx))
}
