package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashcore/internal/config"
)

func natDefaults(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	return cfg
}

func Test_FindProfile_Defaults_To_Sole_Volume(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)
	require.Len(t, cfg.Volumes, 1)

	prof, err := findProfile(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, cfg.Volumes[0].Name, prof.Name)
}

func Test_FindProfile_By_Name(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)
	name := cfg.Volumes[0].Name

	prof, err := findProfile(cfg, name)
	require.NoError(t, err)
	assert.Equal(t, name, prof.Name)
}

func Test_FindProfile_Unknown_Name_Errors(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)

	_, err := findProfile(cfg, "does-not-exist")

	assert.Error(t, err)
}

func Test_FindProfile_Requires_Explicit_Name_When_Ambiguous(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)
	cfg.Volumes = append(cfg.Volumes, cfg.Volumes[0])
	cfg.Volumes[1].Name = "second"

	_, err := findProfile(cfg, "")

	assert.Error(t, err)
}

func Test_OpenVolume_Format_Then_Mount_Succeeds(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)

	vol, err := openVolume(cfg, "", true)
	require.NoError(t, err)

	require.NoError(t, vol.Mount(context.Background()))
	assert.Greater(t, vol.NumLogicalSectors(), uint32(0))
}

func Test_OpenVolumeWithFault_Returns_Nil_Fault_When_Disabled(t *testing.T) {
	t.Parallel()

	cfg := natDefaults(t)
	cfg.Volumes[0].Fault.Enabled = false

	_, fault, err := openVolumeWithFault(cfg, "", true)
	require.NoError(t, err)
	assert.Nil(t, fault)
}

func Test_FaultFor_Returns_Active_Injector_When_Enabled(t *testing.T) {
	t.Parallel()

	prof := natDefaults(t).Volumes[0]
	prof.Fault.Enabled = true
	prof.Fault.BitFlipRate = 1.0

	f := faultFor(prof)

	require.NotNil(t, f)
}
