package location

import (
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang/geo/r3"

	"github.com/uwbmesh/tschcore/internal/addr"
	"github.com/uwbmesh/tschcore/internal/sched"
)

// State is one of the location-engine states (spec.md 4.6).
type State int

const (
	StateInit State = iota
	StateSearchingNbrhood
	StateSearching
	StateMeasuringDist
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSearchingNbrhood:
		return "searching-nbrhood"
	case StateSearching:
		return "searching"
	case StateMeasuringDist:
		return "measuring-dist"
	case StateJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Event drives location-engine state transitions.
type Event int

const (
	EventStart Event = iota
	EventStartRoot
	EventStop
	EventJoined
	EventLost
	EventCellDone
	EventCellSkip
	EventTimeout
	EventDistMeasured
	EventDistFailed
)

const (
	// LocSearchNbrhoodCount is how many cells the engine spends in
	// searching-nbrhood before falling back to searching (spec.md 4.6).
	LocSearchNbrhoodCount = 10
	// LocMeasureDistTimeout bounds the explicit ranging request issued
	// from measuring-dist (spec.md 4.6).
	LocMeasureDistTimeout = 30 * time.Second
	// LocUpdateTimeout is the staleness bound on a joined fix (spec.md 4.6).
	LocUpdateTimeout = 60 * time.Second
	// LocDT is the springs solver's Euler integration step, in seconds.
	LocDT = 0.05
)

// Engine owns the location-engine state machine, this node's current
// position estimate, its neighbor table, and its beacon-index
// assignment. One instance per Node aggregate (spec.md 9).
type Engine struct {
	Self addr.Addr

	state    State
	cellsRun int

	Position      r3.Vector
	PositionKnown bool
	BeaconIndex   int
	IsBeacon      bool

	Neighbors *Table
	Log       *log.Logger

	// Velocity is the springs solver's running velocity estimate,
	// carried across cells while IsBeacon && PositionKnown.
	Velocity r3.Vector
	// Backoff is this node's beacon-contention counter (spec.md 4.6).
	Backoff *Backoff

	sched *sched.Scheduler
	slots [4]*sched.Slot

	rangingPeer addr.Addr
	rangingIdx  int
	lastTDOA    SolveStatus

	// pending* hold the prime + nonprime beacon set of the cell that
	// triggered measuring-dist, so ReportDistance can convert pseudoranges
	// into distances once the explicit ranging turnaround completes.
	pendingPrimeIdx     int
	pendingIdxs         []int
	pendingBeacons      []r3.Vector
	pendingPseudoranges []float64
}

// NewEngine returns a location engine in the init state.
func NewEngine(self addr.Addr, s *sched.Scheduler) *Engine {
	return &Engine{
		Self:      self,
		state:     StateInit,
		Neighbors: NewTable(),
		Backoff:   NewBackoff(),
		sched:     s,
		Log:       log.Default().With("component", "location", "addr", self.String()),
	}
}

// State returns the current location-engine state.
func (e *Engine) State() State { return e.state }

// Handle applies a location-engine event.
func (e *Engine) Handle(ev Event) {
	from := e.state
	switch e.state {
	case StateInit:
		switch ev {
		case EventStart:
			e.enterSearchingNbrhood()
		case EventStartRoot:
			e.Position = r3.Vector{}
			e.PositionKnown = true
			e.BeaconIndex = 0
			e.IsBeacon = true
			e.state = StateJoined
		}
	case StateSearchingNbrhood:
		switch ev {
		case EventJoined:
			e.state = StateJoined
		case EventCellDone:
			e.cellsRun++
			if e.cellsRun >= LocSearchNbrhoodCount {
				e.state = StateSearching
			}
		case EventStop:
			e.clearToInit()
		}
	case StateSearching:
		switch ev {
		case EventJoined:
			e.state = StateJoined
		case EventCellSkip:
			e.state = StateMeasuringDist
		case EventStop:
			e.clearToInit()
		}
	case StateMeasuringDist:
		switch ev {
		case EventDistMeasured:
			e.state = StateJoined
		case EventDistFailed:
			e.state = StateSearching
		case EventTimeout:
			e.state = StateSearching
		case EventStop:
			e.clearToInit()
		}
	case StateJoined:
		switch ev {
		case EventLost:
			e.enterSearchingNbrhood()
		case EventStop:
			e.clearToInit()
		}
	}
	if e.state != from && e.Log != nil {
		e.Log.Debug("state transition", "from", from, "to", e.state, "event", ev)
	}
}

func (e *Engine) enterSearchingNbrhood() {
	e.state = StateSearchingNbrhood
	e.cellsRun = 0
}

func (e *Engine) clearToInit() {
	e.state = StateInit
	e.Position = r3.Vector{}
	e.PositionKnown = false
	e.Velocity = r3.Vector{}
	e.Neighbors = NewTable()
	e.IsBeacon = false
	e.cellsRun = 0
	e.clearPending()
}

func (e *Engine) clearPending() {
	e.pendingIdxs = nil
	e.pendingBeacons = nil
	e.pendingPseudoranges = nil
}

// InstallSearchSlots installs the four loc slots of spec.md 4.6's
// searching-nbrhood state, at offsets k*sf.Length/4 + 2 for k=0..3.
func (e *Engine) InstallSearchSlots(sf *sched.Slotframe, cb sched.Callback) {
	for k := 0; k < 4; k++ {
		offset := k*sf.Length/4 + 2
		slot, err := sched.SlotAdd(sf, sched.OptShared, offset, cb)
		if err == nil {
			e.slots[k] = slot
		}
	}
}

// CellResult summarizes one loc-slot cell's outcome, ready for
// UpdateFromCell. Order maps offset k (0 is the prime beacon, 1..5 the
// nonprime responders) to the lattice index expected at that offset,
// per beacon_order[dir][slot] (spec.md 4.6).
type CellResult struct {
	Dir, Slot int
	Order     [6]int
	Heard     map[int]Neighbor
	Tstamps   *Tstamps
}

// UpdateFromCell runs spec.md 4.6 step 4 (prepare_tstamps),
// update_neighbors, and update_location for one completed cell, then
// drives the state machine accordingly.
func (e *Engine) UpdateFromCell(cell CellResult) {
	if cell.Tstamps != nil && !cell.Tstamps.PrepareTstamps() {
		e.Handle(EventCellDone)
		return
	}

	lost := e.Neighbors.Update(cell.Dir, cell.Slot, cell.Order, cell.Heard, Quantize(e.Position), e.PositionKnown)
	if lost {
		e.Handle(EventLost)
		return
	}

	updated := e.updateLocation(cell)
	switch e.state {
	case StateSearchingNbrhood:
		if updated {
			e.Handle(EventJoined)
		} else {
			e.Handle(EventCellDone)
		}
	case StateSearching:
		if updated {
			e.Handle(EventJoined)
		} else if cell.Tstamps != nil && cell.Tstamps.primeSeen &&
			(e.lastTDOA == SolveInaccurate || e.lastTDOA == SolveNonfinite || e.lastTDOA == SolveDegenerate) {
			e.beginMeasuringDist(cell)
		}
	case StateJoined:
		if !e.PositionKnown && e.Neighbors.LocalCount() < 4 {
			e.Handle(EventLost)
		}
	}

	if e.PositionKnown {
		e.OptimizeBeacons()
	} else {
		e.JoinBeacons()
	}
}

// gatherCellBeacons collects the prime and whichever nonprime beacons
// of the cell carried a usable column-6 pseudorange (spec.md 4.6 step
// 4's last bullet), returning their canonical lattice indices,
// positions, and pseudoranges (in meters) alongside the prime record.
// ok reports only that a prime frame with tstamps was present; callers
// decide for themselves whether the nonprime count is sufficient.
func (e *Engine) gatherCellBeacons(cell CellResult) (prime Neighbor, idxs []int, beacons []r3.Vector, pseudoranges []float64, ok bool) {
	if cell.Tstamps == nil || !cell.Tstamps.primeSeen {
		return Neighbor{}, nil, nil, nil, false
	}
	prime, ok = cell.Heard[cell.Order[0]]
	if !ok {
		return Neighbor{}, nil, nil, nil, false
	}
	idxs = append(idxs, cell.Order[0])

	pr, prOk := cell.Tstamps.Pseudoranges()
	for i := 1; i <= 5; i++ {
		if !prOk[i-1] {
			continue
		}
		nbr, heardOK := cell.Heard[cell.Order[i]]
		if !heardOK {
			continue
		}
		beacons = append(beacons, nbr.Position)
		pseudoranges = append(pseudoranges, TicksToMeters(pr[i-1]))
		idxs = append(idxs, cell.Order[i])
	}
	return prime, idxs, beacons, pseudoranges, true
}

// updateLocation attempts a position fix from this cell (spec.md
// 4.6's "Solvers"): the springs solver refines an existing fix when
// this node already beacons with a known position, otherwise
// compute_tdoa_location is attempted from the prime and nonprime
// beacons. It returns true if this produced a new or refined fix.
func (e *Engine) updateLocation(cell CellResult) bool {
	prime, _, beacons, pseudoranges, ok := e.gatherCellBeacons(cell)
	if !ok {
		return false
	}

	if e.IsBeacon && e.PositionKnown && len(beacons) > 0 {
		d0 := e.Position.Sub(prime.Position).Norm()
		pts := append([]r3.Vector{prime.Position}, beacons...)
		distances := make([]float64, len(pts))
		distances[0] = d0
		for i, pr := range pseudoranges {
			distances[i+1] = pr + d0
		}
		e.Position, e.Velocity = SolveSprings(e.Position, e.Velocity, pts, distances, LocDT)
		e.lastTDOA = SolveOK
		return true
	}

	if len(beacons) < 4 {
		e.lastTDOA = SolveDegenerate
		return false
	}

	sol, status := SolveTDOA(prime.Position, beacons, pseudoranges)
	e.lastTDOA = status
	if status != SolveOK {
		return false
	}
	e.Position = sol
	e.PositionKnown = true
	return true
}

// beginMeasuringDist stashes the triggering cell's prime and nonprime
// beacon set and moves to measuring-dist, which issues an explicit
// ranging request to the prime over the TSCH shared slot (spec.md
// 4.6). Requires at least three other column-6 timestamps.
func (e *Engine) beginMeasuringDist(cell CellResult) {
	prime, idxs, beacons, pseudoranges, ok := e.gatherCellBeacons(cell)
	if !ok || len(beacons) < 3 {
		return
	}
	e.rangingPeer = prime.Addr
	e.rangingIdx = idxs[0]
	e.pendingPrimeIdx = idxs[0]
	e.pendingIdxs = idxs[1:]
	e.pendingBeacons = beacons
	e.pendingPseudoranges = pseudoranges
	e.Handle(EventCellSkip)
}

// ReportDistance implements tsch.DistanceReporter: a successful
// turnaround-time measurement from the shared-slot protocol converts
// the pending cell's pseudoranges into absolute distances to every
// other beacon, then attempts compute_toa (or compute_3sphere if the
// beacons are coplanar). measuring-dist returns to joined only on a
// successful solve, else back to searching (spec.md 4.6).
func (e *Engine) ReportDistance(peer addr.Addr, oneWayTicks int64) {
	if e.state != StateMeasuringDist || peer != e.rangingPeer {
		return
	}
	nbr := e.Neighbors.At(e.rangingIdx)
	if !nbr.Present {
		e.Handle(EventTimeout)
		return
	}

	d0 := TicksToMeters(float64(oneWayTicks))
	pts := append([]r3.Vector{nbr.Position}, e.pendingBeacons...)
	distances := make([]float64, len(pts))
	distances[0] = d0
	for i, pr := range e.pendingPseudoranges {
		distances[i+1] = pr + d0
	}
	idxs := append([]int{e.pendingPrimeIdx}, e.pendingIdxs...)
	e.clearPending()

	var sol r3.Vector
	var status SolveStatus
	if coplanarPoints(pts) && len(pts) >= 3 {
		var centers [3]r3.Vector
		var dists [3]float64
		var refs [3]int
		copy(centers[:], pts[:3])
		copy(dists[:], distances[:3])
		copy(refs[:], idxs[:3])
		sol, status = Solve3Sphere(centers, dists, refs)
	} else {
		sol, status = SolveTOA(pts, distances)
	}

	if status != SolveOK {
		e.Handle(EventDistFailed)
		return
	}
	e.Position = sol
	e.PositionKnown = true
	e.Handle(EventDistMeasured)
}

// JoinBeacons implements spec.md 4.6's bootstrap beacon-index
// selection, run only while this node's position is unknown. This node
// has no position estimate to measure actual offsets from, so each
// candidate index i is scored against a tentative guess of where this
// node would sit if it occupied i: the lowest-indexed known neighbor's
// reported position, shifted by the ideal lattice offset from i to
// that neighbor's index. shifted_actual_vector(j) is then every known
// neighbor j's reported position relative to that guess, compared via
// dot product against ideal_vector(i,j) (relpos[i][j], as a unit
// vector). The candidate set is every unoccupied index tied for the
// best score; beaconing starts at its lowest index.
func (e *Engine) JoinBeacons() {
	if e.PositionKnown {
		return
	}
	anchorIdx, anchor, haveAnchor := e.Neighbors.anyIndexAndPosition()
	if !haveAnchor {
		return
	}

	const tie = 1e-9
	bestScore := math.Inf(-1)
	var candidates []int
	for i := 0; i < NumLatticeIndices; i++ {
		if e.Neighbors.At(i).Present {
			continue
		}
		score, scored := e.candidateScore(i, anchorIdx, anchor)
		if !scored {
			continue
		}
		switch {
		case score > bestScore+tie:
			bestScore = score
			candidates = []int{i}
		case math.Abs(score-bestScore) <= tie:
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return
	}
	lowest := candidates[0]
	for _, c := range candidates[1:] {
		if c < lowest {
			lowest = c
		}
	}
	e.BeaconIndex = lowest
	e.IsBeacon = true
}

func (e *Engine) candidateScore(i, anchorIdx int, anchor r3.Vector) (float64, bool) {
	guess := anchor.Sub(Vectors[RelPos[i][anchorIdx]].Mul(LatticeR))

	var score float64
	scored := false
	for idx := 0; idx < NumLatticeIndices; idx++ {
		nbr := e.Neighbors.At(idx)
		if !nbr.Present {
			continue
		}
		ideal := Vectors[RelPos[i][idx]]
		if ideal.Norm() < 1e-9 {
			continue
		}
		actual := nbr.Position.Sub(guess)
		if actual.Norm() < 1e-9 {
			continue
		}
		score += ideal.Normalize().Dot(actual.Normalize())
		scored = true
	}
	return score, scored
}

// OptimizeBeacons implements spec.md 4.6's beacon-index selection, run
// only once this node's location is finite. If a prime beacon (index
// 0..3) already sits within this node's quantized neighborhood, it
// leaves the existing assignment alone. Otherwise, if this node would
// see at least 3 other local neighbors, it contests the prime slot
// matching its own ideal lattice position, taking over only if it is
// at least 25% closer to that slot's ideal point than the current
// occupant; otherwise it tracks the index passively without beaconing.
func (e *Engine) OptimizeBeacons() {
	if !e.PositionKnown {
		return
	}
	for i := 0; i < 4; i++ {
		nbr := e.Neighbors.At(i)
		if nbr.Present && nbr.LocalNbrhood {
			return
		}
	}
	if e.Neighbors.LocalCount() < 3 {
		return
	}
	e.takeOverIfCloser(IndexFromPoint(Quantize(e.Position)) % 4)
}

func (e *Engine) takeOverIfCloser(idx int) {
	occupant := e.Neighbors.At(idx)
	ideal := Vectors[idx].Mul(LatticeR)
	if !occupant.Present {
		e.BeaconIndex = idx
		e.IsBeacon = true
		return
	}
	current := occupant.Position.Sub(ideal).Norm()
	mine := e.Position.Sub(ideal).Norm()
	e.BeaconIndex = idx
	e.IsBeacon = mine < current*0.75
}
