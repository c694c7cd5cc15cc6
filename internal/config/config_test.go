package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbmesh/tschcore/internal/addr"
)

const sampleYAML = `
self: "0102030405060708"
ssid: mesh0
slotframes:
  - priority: 0
    length: 101
lattice_r: 2.5
antenna_delay_ticks: 16450
forced_beacon_index: 4
snapshot_path: snapshot.csv
bridge_enabled: true
discovery_enabled: true
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "meshctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadParsesAllFields(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mesh0", cfg.SSID)
	require.Len(t, cfg.Slotframes, 1)
	assert.Equal(t, 101, cfg.Slotframes[0].Length)
	assert.Equal(t, int64(16450), cfg.AntennaDelayTicks)
	assert.Equal(t, 4, cfg.ForcedBeaconIndex)
	assert.True(t, cfg.BridgeEnabled)
	assert.True(t, cfg.DiscoveryEnabled)
}

func TestSelfAddrDecodesHex(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	a, err := cfg.SelfAddr()
	require.NoError(t, err)
	assert.Equal(t, addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}, a)
}

func TestSelfAddrRejectsWrongLength(t *testing.T) {
	cfg := Config{Self: "0102"}
	_, err := cfg.SelfAddr()
	assert.Error(t, err)
}

func TestDefaultForcedBeaconIndexIsUnforced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("self: \"0102030405060708\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.ForcedBeaconIndex)
}
