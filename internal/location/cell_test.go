package location

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/frame"
	"github.com/uwbmesh/tschcore/internal/radio"
	"github.com/uwbmesh/tschcore/internal/sched"
)

func TestCellFromASNCoversAllCells(t *testing.T) {
	seen := make(map[[2]int]bool)
	for k := uint64(0); k < NumDirs*NumSlots; k++ {
		dir, slot := CellFromASN(k * CellPeriod)
		seen[[2]int{dir, slot}] = true
	}
	assert.Len(t, seen, NumDirs*NumSlots)
}

func TestBeaconOrderWithinRange(t *testing.T) {
	for dir := 0; dir < NumDirs; dir++ {
		for slot := 0; slot < NumSlots; slot++ {
			order := BeaconOrder(dir, slot)
			for _, idx := range order {
				assert.GreaterOrEqual(t, idx, 0)
				assert.Less(t, idx, NumLatticeIndices)
			}
		}
	}
}

// TestCellSlotReceivesPrimeBeacon exercises cellReceive's offset-0 path:
// a peer's beacon, delivered once, lands in the neighbor table at the
// cell's prime lattice index.
func TestCellSlotReceivesPrimeBeacon(t *testing.T) {
	simA, simB := radio.NewSim(), radio.NewSim()
	radio.Connect(simA, simB)

	self := addr.Addr{9, 9, 9, 9, 9, 9, 9, 9}
	peer := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}

	dir, slot := CellFromASN(0)
	order := BeaconOrder(dir, slot)

	b := &Beacon{Class: 128, Dir: dir, Slot: slot, Offset: 0, Position: r3.Vector{X: 1, Y: 2, Z: 3}}
	payload := b.Encode()
	f := frame.New(frame.TypeBeacon)
	f.SetAddresses(0, addr.Broadcast[:], addr.Len, 0, peer[:], addr.Len)
	f.PayloadAppend(payload)
	wire, err := f.Encode()
	require.NoError(t, err)
	simA.WriteTX(wire, 0, len(wire))

	e := NewEngine(self, sched.New())
	e.CellSlot(simB, 0, 128, "mesh")

	nbr, ok := e.Neighbors.IndexOf(peer)
	require.True(t, ok)
	assert.Equal(t, order[0], nbr)
	assert.True(t, e.Neighbors.At(order[0]).Present)
}
