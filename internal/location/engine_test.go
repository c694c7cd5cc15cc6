package location

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/sched"
)

func newTestEngine() *Engine {
	return NewEngine(addr.Addr{9, 9, 9, 9, 9, 9, 9, 9}, sched.New())
}

func TestHandleStateTransitions(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, StateInit, e.State())

	e.Handle(EventStart)
	assert.Equal(t, StateSearchingNbrhood, e.State())

	for i := 0; i < LocSearchNbrhoodCount; i++ {
		e.Handle(EventCellDone)
	}
	assert.Equal(t, StateSearching, e.State())

	e.Handle(EventCellSkip)
	assert.Equal(t, StateMeasuringDist, e.State())

	e.Handle(EventTimeout)
	assert.Equal(t, StateSearching, e.State())

	e.Handle(EventCellSkip)
	e.Handle(EventDistFailed)
	assert.Equal(t, StateSearching, e.State())

	e.Handle(EventJoined)
	assert.Equal(t, StateJoined, e.State())

	e.Handle(EventLost)
	assert.Equal(t, StateSearchingNbrhood, e.State())

	e.Handle(EventStop)
	assert.Equal(t, StateInit, e.State())
	assert.False(t, e.PositionKnown)
	assert.False(t, e.IsBeacon)
}

func TestHandleStartRootJoinsImmediately(t *testing.T) {
	e := newTestEngine()
	e.Handle(EventStartRoot)
	assert.Equal(t, StateJoined, e.State())
	assert.True(t, e.PositionKnown)
	assert.True(t, e.IsBeacon)
	assert.Equal(t, 0, e.BeaconIndex)
	assert.Equal(t, r3.Vector{}, e.Position)
}

// metersToTicks is the test-side inverse of TicksToMeters, used to seed
// Tstamps columns with the raw tick-domain values gatherCellBeacons
// expects (it converts stored pseudoranges back to meters itself).
func metersToTicks(m float64) float64 {
	return m / (DW1000TimeRes * SpeedOfLight)
}

// planarCell builds a CellResult with a prime at p0 plus len(others)
// nonprime beacons, all carrying usable column-6 pseudoranges
// consistent with true position x.
func planarCell(primeAddr addr.Addr, p0, x r3.Vector, others []r3.Vector) CellResult {
	order := [6]int{0, 1, 2, 3, 4, 5}
	heard := map[int]Neighbor{0: {Addr: primeAddr, Position: p0, Present: true}}
	ts := NewTstamps()
	d0 := x.Sub(p0).Norm()
	for i, p := range others {
		idx := i + 1
		heard[idx] = Neighbor{Addr: addr.Addr{byte(idx + 1)}, Position: p, Present: true}
		pr := metersToTicks(x.Sub(p).Norm() - d0)
		ts.Set(0, idx, 0)
		ts.Set(idx, 6, pr)
	}
	return CellResult{Order: order, Heard: heard, Tstamps: ts}
}

func TestUpdateFromCellTDOASolveJoinsFromSearchingNbrhood(t *testing.T) {
	e := newTestEngine()
	e.Handle(EventStart)

	prime := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	p0 := r3.Vector{}
	x := r3.Vector{X: 2.5, Y: 2.5, Z: 0}
	others := []r3.Vector{
		{X: 5, Y: 0, Z: 0},
		{X: 5, Y: 5, Z: 0},
		{X: 0, Y: 5, Z: 0},
		{X: 2.5, Y: 2.5, Z: 5},
	}
	cell := planarCell(prime, p0, x, others)

	e.UpdateFromCell(cell)
	assert.Equal(t, StateJoined, e.State())
	require.True(t, e.PositionKnown)
	assert.Less(t, e.Position.Sub(x).Norm(), 1e-3)
}

func TestUpdateFromCellInsufficientBeaconsStaysSearchingNbrhood(t *testing.T) {
	e := newTestEngine()
	e.Handle(EventStart)

	prime := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	cell := planarCell(prime, r3.Vector{}, r3.Vector{X: 1}, []r3.Vector{{X: 2}})

	e.UpdateFromCell(cell)
	assert.Equal(t, StateSearchingNbrhood, e.State())
	assert.False(t, e.PositionKnown)
	assert.Equal(t, 1, e.cellsRun)
}

func TestUpdateFromCellDegenerateTDOATriggersMeasuringDist(t *testing.T) {
	e := newTestEngine()
	e.state = StateSearching

	prime := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	// Three nonprime beacons: enough column-6 timestamps to start
	// measuring-dist (spec.md 4.6), not enough for a direct TDOA solve.
	p0 := r3.Vector{}
	x := r3.Vector{X: 2.5, Y: 2.5, Z: 0}
	others := []r3.Vector{
		{X: 5, Y: 0, Z: 0},
		{X: 5, Y: 5, Z: 0},
		{X: 0, Y: 5, Z: 0},
	}
	cell := planarCell(prime, p0, x, others)

	e.UpdateFromCell(cell)
	assert.Equal(t, StateMeasuringDist, e.State())
	assert.Equal(t, prime, e.rangingPeer)
	assert.Len(t, e.pendingBeacons, 3)
}

func TestReportDistanceSolvesAndJoinsOnSuccess(t *testing.T) {
	e := newTestEngine()
	e.state = StateSearching

	prime := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	p0 := r3.Vector{}
	x := r3.Vector{X: 2.5, Y: 2.5, Z: 0}
	others := []r3.Vector{
		{X: 5, Y: 0, Z: 0},
		{X: 5, Y: 5, Z: 0},
		{X: 0, Y: 5, Z: 0},
	}
	cell := planarCell(prime, p0, x, others)
	e.UpdateFromCell(cell)
	require.Equal(t, StateMeasuringDist, e.State())

	// Seed the neighbor table with the prime's record, as the normal
	// cell-processing path would have via Neighbors.Update.
	e.Neighbors.entries[e.rangingIdx] = Neighbor{Addr: prime, Position: p0, Present: true}

	d0 := x.Sub(p0).Norm()
	oneWayTicks := int64(d0 / (DW1000TimeRes * SpeedOfLight))

	e.ReportDistance(prime, oneWayTicks)

	assert.Equal(t, StateJoined, e.State())
	require.True(t, e.PositionKnown)
	assert.Less(t, e.Position.Sub(x).Norm(), 1e-2)
	assert.Nil(t, e.pendingBeacons)
}

func TestReportDistanceReturnsToSearchingOnDegenerateSolve(t *testing.T) {
	e := newTestEngine()
	e.state = StateMeasuringDist

	prime := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	e.rangingPeer = prime
	e.rangingIdx = 0
	e.Neighbors.entries[0] = Neighbor{Addr: prime, Position: r3.Vector{}, Present: true}

	// Two beacons on top of each other: the three-sphere intersection
	// is degenerate (coincident centers), whatever the distance.
	e.pendingPrimeIdx = 0
	e.pendingIdxs = []int{1, 2}
	e.pendingBeacons = []r3.Vector{{X: 1}, {X: 1}}
	e.pendingPseudoranges = []float64{0, 0}

	e.ReportDistance(prime, 1000)

	assert.Equal(t, StateSearching, e.State())
	assert.False(t, e.PositionKnown)
}

func TestReportDistanceIgnoresWrongPeerOrState(t *testing.T) {
	e := newTestEngine()
	e.state = StateSearching
	e.rangingPeer = addr.Addr{1}

	e.ReportDistance(addr.Addr{2}, 100)
	assert.Equal(t, StateSearching, e.State())

	e.state = StateMeasuringDist
	e.ReportDistance(addr.Addr{2}, 100)
	assert.Equal(t, StateMeasuringDist, e.State())
}

func TestReportDistanceTimesOutWhenPrimeMissingFromTable(t *testing.T) {
	e := newTestEngine()
	e.state = StateMeasuringDist
	e.rangingPeer = addr.Addr{1}
	e.rangingIdx = 5

	e.ReportDistance(addr.Addr{1}, 100)
	assert.Equal(t, StateSearching, e.State())
}

func TestJoinBeaconsPicksValidIndex(t *testing.T) {
	e := newTestEngine()
	root := addr.Addr{1, 2, 3, 4, 5, 6, 7, 8}
	e.Neighbors.entries[0] = Neighbor{Addr: root, Position: r3.Vector{}, Present: true}

	e.JoinBeacons()
	assert.True(t, e.IsBeacon)
	assert.GreaterOrEqual(t, e.BeaconIndex, 0)
	assert.Less(t, e.BeaconIndex, NumLatticeIndices)
}

func TestJoinBeaconsNoOpWithoutAnyNeighbor(t *testing.T) {
	e := newTestEngine()
	e.JoinBeacons()
	assert.False(t, e.IsBeacon)
}

func TestJoinBeaconsNoOpOncePositionKnown(t *testing.T) {
	e := newTestEngine()
	e.PositionKnown = true
	e.JoinBeacons()
	assert.False(t, e.IsBeacon)
}

func TestOptimizeBeaconsTakesOverFartherOccupant(t *testing.T) {
	e := newTestEngine()
	e.PositionKnown = true
	e.Position = Vectors[0].Mul(LatticeR)

	idx := IndexFromPoint(Quantize(e.Position)) % 4
	far := Vectors[idx].Mul(LatticeR).Add(r3.Vector{X: 100})
	e.Neighbors.entries[idx] = Neighbor{Addr: addr.Addr{7}, Position: far, Present: true}
	for i := 4; i < 7; i++ {
		e.Neighbors.entries[i] = Neighbor{Addr: addr.Addr{byte(i)}, Present: true, LocalNbrhood: true}
	}

	e.OptimizeBeacons()
	assert.True(t, e.IsBeacon)
	assert.Equal(t, idx, e.BeaconIndex)
}

func TestOptimizeBeaconsLeavesCloserOccupantAlone(t *testing.T) {
	e := newTestEngine()
	e.PositionKnown = true
	e.Position = Vectors[0].Mul(LatticeR)

	idx := IndexFromPoint(Quantize(e.Position)) % 4
	e.Neighbors.entries[idx] = Neighbor{Addr: addr.Addr{7}, Position: Vectors[idx].Mul(LatticeR), Present: true}
	for i := 4; i < 7; i++ {
		e.Neighbors.entries[i] = Neighbor{Addr: addr.Addr{byte(i)}, Present: true, LocalNbrhood: true}
	}

	e.OptimizeBeacons()
	assert.False(t, e.IsBeacon)
}

func TestOptimizeBeaconsNoOpWithoutEnoughLocalNeighbors(t *testing.T) {
	e := newTestEngine()
	e.PositionKnown = true
	e.Position = Vectors[0].Mul(LatticeR)

	e.OptimizeBeacons()
	assert.False(t, e.IsBeacon)
}

func TestBeaconContentionRecordedOnTransmit(t *testing.T) {
	e := newTestEngine()
	e.recordContention(true)
	assert.Equal(t, 1, e.Backoff.N())
	e.recordContention(false)
	assert.Equal(t, 2, e.Backoff.N())
}
