package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These exercise the subcommand RunE bodies end to end against the default
// single-volume config. They mutate package-level flag variables the same
// way cobra would after parsing, so they deliberately do not run with
// t.Parallel() against each other.

func resetGlobals(t *testing.T) {
	t.Helper()
	origCfgPath, origVolumeName := cfgPath, volumeName
	t.Cleanup(func() { cfgPath, volumeName = origCfgPath, origVolumeName })
	cfgPath, volumeName = "", ""
}

func Test_RunFormat_Succeeds_Against_Default_Config(t *testing.T) {
	resetGlobals(t)

	err := runFormat()

	assert.NoError(t, err)
}

func Test_RunMount_Fails_Without_Format(t *testing.T) {
	resetGlobals(t)
	orig := mountFormat
	defer func() { mountFormat = orig }()
	mountFormat = false

	err := runMount()

	assert.Error(t, err)
}

func Test_RunMount_Succeeds_With_Format(t *testing.T) {
	resetGlobals(t)
	orig := mountFormat
	defer func() { mountFormat = orig }()
	mountFormat = true

	err := runMount()

	assert.NoError(t, err)
}

func Test_RunStat_Reports_Geometry_After_Format(t *testing.T) {
	resetGlobals(t)
	orig := statFormat
	defer func() { statFormat = orig }()
	statFormat = true

	err := runStat()

	assert.NoError(t, err)
}

func Test_RunClean_Succeeds_With_No_Pending_Transaction(t *testing.T) {
	resetGlobals(t)
	orig := cleanFormat
	defer func() { cleanFormat = orig }()
	cleanFormat = true

	err := runClean()

	require.NoError(t, err)
}

func Test_RunWrite_Succeeds_After_Format(t *testing.T) {
	resetGlobals(t)
	origFmt, origHex, origFill := rwFormat, writeHex, writeFill
	defer func() { rwFormat, writeHex, writeFill = origFmt, origHex, origFill }()

	rwFormat = true
	writeHex = ""
	writeFill = "ab"

	// Each flashctl invocation builds a fresh in-memory device, so --format
	// and the write against it must happen within this single call.
	require.NoError(t, runWrite("0"))
}

func Test_RunRead_Succeeds_After_Format(t *testing.T) {
	resetGlobals(t)
	orig := rwFormat
	defer func() { rwFormat = orig }()
	rwFormat = true

	require.NoError(t, runRead("0", "1"))
}

func Test_RunTrim_Succeeds_After_Format(t *testing.T) {
	resetGlobals(t)
	orig := rwFormat
	defer func() { rwFormat = orig }()
	rwFormat = true

	err := runTrim("0", "1")

	assert.NoError(t, err)
}

func Test_ProfileIndex_Defaults_To_Sole_Volume(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)

	idx, err := profileIndex(cfg, "")

	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func Test_ProfileIndex_Unknown_Name_Errors(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)

	_, err := profileIndex(cfg, "nope")

	assert.Error(t, err)
}

func Test_RunSnapshot_Writes_Readable_File(t *testing.T) {
	resetGlobals(t)
	orig := snapshotFormat
	defer func() { snapshotFormat = orig }()
	snapshotFormat = true

	path := filepath.Join(t.TempDir(), "device.snap")
	require.NoError(t, runSnapshot(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func Test_RunInjectFault_Reports_Caught_Faults(t *testing.T) {
	resetGlobals(t)
	origSeed, origBitFlip, origSectors := faultSeed, faultBitFlip, faultSectors
	defer func() { faultSeed, faultBitFlip, faultSectors = origSeed, origBitFlip, origSectors }()

	faultSeed = 1
	faultBitFlip = 1.0
	faultSectors = 4

	err := runInjectFault()

	assert.NoError(t, err)
}
