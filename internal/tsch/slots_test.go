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

// TestSharedSlotAckRoundTrip is scenario S3 of spec.md 8: A transmits a
// unicast data frame to B; B's shared-slot rx path validates the
// address, answers with an ack carrying a TRESP_IE; A's tx path
// recognizes the ack. Steps are driven directly (rather than through
// Engine.SharedSlot's own polling loop) because the deterministic
// simulator answers WaitEvent with a single poll, not a real wait.
func TestSharedSlotAckRoundTrip(t *testing.T) {
	simA, simB := radio.NewSim(), radio.NewSim()
	radio.Connect(simA, simB)

	a := addr.Addr{1, 1, 1, 1, 1, 1, 1, 1}
	b := addr.Addr{2, 2, 2, 2, 2, 2, 2, 2}
	engA := NewEngine(a, simA, sched.New())
	engB := NewEngine(b, simB, sched.New())

	dataFrame := frame.New(frame.TypeData)
	require.NoError(t, dataFrame.SetAddresses(0, b[:], addr.Len, 0, a[:], addr.Len))
	dataFrame.SetSequenceNumber(7)
	wire, err := dataFrame.Encode()
	require.NoError(t, err)

	// A transmits: deliver directly into B's sim, as WriteTX would.
	simB.Deliver(wire, radio.StatusRxOK)

	slotB := &sched.Slot{}
	engB.sharedRx(slotB)

	// B's sendAck wrote its ack through simB -> simA via Connect.
	buf := make([]byte, frame.MaxPHYFrame)
	n, err := simA.ReadRX(buf, 0, simA.ReadRXFinfo())
	require.NoError(t, err)

	ack, err := frame.Parse(buf[:n])
	require.NoError(t, err)
	assert.True(t, ValidAck(ack, a, 7))

	tr, ok := ack.FindIE(frame.TRespIE)
	require.True(t, ok)
	assert.Len(t, tr.Content, 4)

	_ = engA
}

func TestFramePoolEvictionOnExhaustion(t *testing.T) {
	pool := NewFramePool()
	slot := &sched.Slot{}
	for i := 0; i < PoolSize; i++ {
		f, err := pool.Alloc(frame.TypeData, slot)
		require.NoError(t, err)
		slot.Enqueue(f)
	}
	assert.Equal(t, 0, pool.Available())

	f, err := pool.Alloc(frame.TypeData, slot)
	require.NoError(t, err)
	assert.NotNil(t, f)
	assert.Equal(t, PoolSize-1, slot.QueueLen())
}

func TestFramePoolExhaustedNoEviction(t *testing.T) {
	pool := NewFramePool()
	for i := 0; i < PoolSize; i++ {
		_, err := pool.Alloc(frame.TypeData, nil)
		require.NoError(t, err)
	}
	_, err := pool.Alloc(frame.TypeData, nil)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}
