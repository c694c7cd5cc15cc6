package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbmesh/tschcore/internal/config"
	"github.com/uwbmesh/tschcore/internal/location"
	"github.com/uwbmesh/tschcore/internal/radio"
	"github.com/uwbmesh/tschcore/internal/sched"
	"github.com/uwbmesh/tschcore/internal/tsch"
)

func testConfig() config.Config {
	return config.Config{
		Self:              "0102030405060708",
		SSID:              "mesh0",
		Slotframes:        []config.Slotframe{{Priority: 0, Length: 101}},
		ForcedBeaconIndex: -1,
	}
}

func TestNewInstallsSlotsAndWiresDistanceReporter(t *testing.T) {
	n, err := New(testConfig(), radio.NewSim())
	require.NoError(t, err)

	assert.Equal(t, n.Location, n.Tsch.Distance)
	sf := n.Sched.Slotframe(0)
	require.NotNil(t, sf)
	assert.NotNil(t, sched.SlotFind(sf, 0))
	assert.NotNil(t, sched.SlotFind(sf, 1))
}

func TestNewRejectsMissingMainSlotframe(t *testing.T) {
	cfg := testConfig()
	cfg.Slotframes = []config.Slotframe{{Priority: 1, Length: 101}}
	_, err := New(cfg, radio.NewSim())
	assert.Error(t, err)
}

func TestStartAsRootMovesEnginesOutOfInit(t *testing.T) {
	n, err := New(testConfig(), radio.NewSim())
	require.NoError(t, err)

	n.Start(true)
	assert.Equal(t, tsch.StateConnected, n.Tsch.State())
	assert.Equal(t, location.StateJoined, n.Location.State())
	assert.True(t, n.Location.PositionKnown)
}

func TestForcedBeaconIndexAppliedAtConstruction(t *testing.T) {
	cfg := testConfig()
	cfg.ForcedBeaconIndex = 7
	n, err := New(cfg, radio.NewSim())
	require.NoError(t, err)

	assert.True(t, n.Location.IsBeacon)
	assert.Equal(t, 7, n.Location.BeaconIndex)
}

func TestDumpCountersReflectsEngineState(t *testing.T) {
	n, err := New(testConfig(), radio.NewSim())
	require.NoError(t, err)

	c := n.DumpCounters()
	assert.Equal(t, "idle", c.TschState)
	assert.Equal(t, "init", c.LocationState)
	assert.False(t, c.PositionKnown)
}

func TestTickAdvancesSchedulerASN(t *testing.T) {
	n, err := New(testConfig(), radio.NewSim())
	require.NoError(t, err)

	before := n.Sched.ASN()
	n.Tick()
	assert.Equal(t, before+1, n.Sched.ASN())
}
