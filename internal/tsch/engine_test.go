package tsch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/frame"
	"github.com/uwbmesh/tschcore/internal/radio"
	"github.com/uwbmesh/tschcore/internal/sched"
)

func newTestEngine(self addr.Addr) *Engine {
	sim := radio.NewSim()
	return NewEngine(self, sim, sched.New())
}

func TestStateMachineLifecycle(t *testing.T) {
	e := newTestEngine(addr.Addr{1})
	assert.Equal(t, StateIdle, e.State())

	e.Handle(EventStartScan)
	assert.Equal(t, StateScanning, e.State())

	e.Handle(EventSync)
	assert.Equal(t, StateSynced, e.State())

	e.Handle(EventConnect)
	assert.Equal(t, StateConnected, e.State())

	// disconnected immediately folds back to idle.
	e.Handle(EventDisconnect)
	assert.Equal(t, StateIdle, e.State())
}

func TestStateMachineStartNetwork(t *testing.T) {
	e := newTestEngine(addr.Addr{1})
	e.Handle(EventStartNetwork)
	assert.Equal(t, StateConnected, e.State())
}

func TestValidAck(t *testing.T) {
	self := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	ack := frame.New(frame.TypeAck)
	require.NoError(t, ack.SetAddresses(0, self[:], addr.Len, 0, nil, 0))
	ack.SetSequenceNumber(42)

	assert.True(t, ValidAck(ack, self, 42))
	assert.False(t, ValidAck(ack, self, 43))

	other := addr.Addr{9, 9, 9, 9, 9, 9, 9, 9}
	assert.False(t, ValidAck(ack, other, 42))

	data := frame.New(frame.TypeData)
	require.NoError(t, data.SetAddresses(0, self[:], addr.Len, 0, nil, 0))
	data.SetSequenceNumber(42)
	assert.False(t, ValidAck(data, self, 42))
}

func TestAcceptAddress(t *testing.T) {
	self := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	assert.True(t, AcceptAddress(nil, self, nil))
	assert.True(t, AcceptAddress(addr.BroadcastShort[:], self, nil))
	assert.True(t, AcceptAddress(self[:], self, nil))
	assert.True(t, AcceptAddress(addr.Broadcast[:], self, nil))

	other := addr.Addr{9, 9, 9, 9, 9, 9, 9, 9}
	assert.False(t, AcceptAddress(other[:], self, nil))
	assert.True(t, AcceptAddress(other[:], self, [][8]byte{other}))
}

func TestTurnaroundDistance(t *testing.T) {
	// no clock offset, 100-tick round trip minus 20-tick turnaround =>
	// 40 ticks one-way.
	d := TurnaroundDistance(0, 100, 20, 0)
	assert.Equal(t, int64(40), d)
}
