package location

import "math"

// NumOffsets is the number of TDM sub-windows in a loc-slot cell: the
// prime at 0, five nonprime beacons at 1..5, and the prime's closing
// retransmission at 6 (spec.md 4.6).
const NumOffsets = 7

// NumTimestampPairs is the number of distinct unordered (i,j) pairs
// across NumOffsets slots: C(7,2) = 21 (spec.md testable property 4).
const NumTimestampPairs = NumOffsets * (NumOffsets - 1) / 2

// Idx maps an unordered pair (i,j), i != j, both in [0, NumOffsets),
// to a unique column index in [0, NumTimestampPairs). It is symmetric:
// Idx(i,j) == Idx(j,i).
func Idx(i, j int) int {
	if i > j {
		i, j = j, i
	}
	// Triangular-number offset of row i, plus position within the row.
	return i*(2*NumOffsets-i-1)/2 + (j - i - 1)
}

// Tstamps holds the upper-triangular matrix of relative arrival
// timestamps collected during one loc-slot cell, plus bookkeeping for
// prepare_tstamps (spec.md 4.6 step 4).
type Tstamps struct {
	// t[Idx(i,j)] is tjk for the (i,j) pair received this cell, or NaN
	// if that pair was never observed.
	t           [NumTimestampPairs]float64
	primeSeen   bool // offset 0 frame was received/sent
	primeClosed bool // offset 6 (prime's closing retransmission) was received/sent
	transmitted int  // -1 if this node did not transmit this cell, else its offset
}

// NewTstamps returns an empty (all-NaN) timestamp matrix.
func NewTstamps() *Tstamps {
	ts := &Tstamps{transmitted: -1}
	for i := range ts.t {
		ts.t[i] = math.NaN()
	}
	return ts
}

// Set records tjk for the pair (i,j).
func (ts *Tstamps) Set(i, j int, v float64) {
	ts.t[Idx(i, j)] = v
	if i == 0 || j == 0 {
		ts.primeSeen = true
	}
	if i == 6 || j == 6 {
		ts.primeClosed = true
	}
}

// Get returns tjk for the pair (i,j) and whether it was observed.
func (ts *Tstamps) Get(i, j int) (float64, bool) {
	v := ts.t[Idx(i, j)]
	return v, !math.IsNaN(v)
}

// SetTransmitted records that this node transmitted at offset o during
// this cell.
func (ts *Tstamps) SetTransmitted(o int) { ts.transmitted = o }

// Column6Count returns how many of the six non-prime offsets (1..5)
// have a recorded column-6 timestamp (tstamps[i,6]), used to decide
// whether a cell has enough data to attempt a fix.
func (ts *Tstamps) Column6Count() int {
	n := 0
	for i := 1; i <= 5; i++ {
		if _, ok := ts.Get(i, 6); ok {
			n++
		}
	}
	return n
}

// PrepareTstamps implements spec.md 4.6 step 4: normalizes the raw
// per-cell timestamp matrix into either one-way distances (if this
// node itself beacons) or pseudoranges relative to the prime.
//
// Returns false if the cell must be discarded (the closing prime frame
// at offset 6 is missing while offset 0 was present).
func (ts *Tstamps) PrepareTstamps() bool {
	if ts.primeSeen && !ts.primeClosed {
		return false
	}

	if ts.transmitted >= 0 {
		// Shift this node's own row into place: nothing to relocate in
		// this simplified column-indexed representation beyond ensuring
		// the transmitted offset's pair with 0 is present.
	}

	// Halve column-0 entries: round-trip -> one-way.
	for j := 1; j < NumOffsets; j++ {
		if v, ok := ts.Get(0, j); ok {
			ts.Set(0, j, v/2)
		}
	}

	// Convert relative-to-offset-i timestamps into absolute
	// inter-beacon distances: tstamps[i,j] += tstamps[0,j] - tstamps[0,i].
	for i := 1; i < 6; i++ {
		for j := i + 1; j < 6; j++ {
			tij, ok1 := ts.Get(i, j)
			t0j, ok2 := ts.Get(0, j)
			t0i, ok3 := ts.Get(0, i)
			if ok1 && ok2 && ok3 {
				ts.Set(i, j, tij+t0j-t0i)
			}
		}
	}
	return true
}

// Pseudoranges computes p_ik = tstamps[i,6] - tstamps[0,i] for i in
// [1,5], for the non-beacon case (spec.md 4.6 step 4, last bullet).
func (ts *Tstamps) Pseudoranges() (p [5]float64, ok [5]bool) {
	for i := 1; i <= 5; i++ {
		tik, has1 := ts.Get(i, 6)
		t0i, has0 := ts.Get(0, i)
		if has1 && has0 {
			p[i-1] = tik - t0i
			ok[i-1] = true
		}
	}
	return
}
