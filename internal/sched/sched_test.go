package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotframeAddDuplicatePriority(t *testing.T) {
	s := New()
	_, err := s.SlotframeAdd(0, 11)
	require.NoError(t, err)
	_, err = s.SlotframeAdd(0, 5)
	assert.ErrorIs(t, err, ErrPriorityTaken)
}

func TestSlotAddDuplicateOffset(t *testing.T) {
	s := New()
	sf, err := s.SlotframeAdd(0, 11)
	require.NoError(t, err)
	_, err = SlotAdd(sf, OptTX, 0, nil)
	require.NoError(t, err)
	_, err = SlotAdd(sf, OptRX, 0, nil)
	assert.ErrorIs(t, err, ErrOffsetTaken)
}

func TestTickDispatchesOnMatchingOffset(t *testing.T) {
	s := New()
	sf, err := s.SlotframeAdd(0, 3)
	require.NoError(t, err)

	var fired []uint64
	_, err = SlotAdd(sf, OptShared, 1, func(asn uint64, slot *Slot) {
		fired = append(fired, asn)
	})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		s.Tick()
	}
	assert.Equal(t, s.ASN(), uint64(6))
	assert.Equal(t, []uint64{1, 4}, fired)
}

func TestSyncAndOffset(t *testing.T) {
	s := New()
	s.Sync(1000, 50)
	assert.Equal(t, uint64(1000), s.ASN())
	assert.Equal(t, int64(50), s.Phase())

	s.Offset(-10)
	assert.Equal(t, int64(40), s.Phase())
}

func TestSlotQueueFIFOAndDrop(t *testing.T) {
	slot := &Slot{}
	assert.Nil(t, slot.Peek())

	slot.Enqueue(nil)
	slot.Enqueue(nil)
	assert.Equal(t, 2, slot.QueueLen())

	slot.Drop()
	assert.Equal(t, 1, slot.QueueLen())
	assert.Equal(t, 1, slot.DropCount)
}
