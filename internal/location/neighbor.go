package location

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/uwbmesh/tschcore/internal/addr"
)

// NbrDropMax is the number of consecutive missed appearances after
// which a neighbor record is dropped (spec.md 3).
const NbrDropMax = 8

// Neighbor is one entry of the node's neighbor table, keyed by its
// lattice index within the local neighborhood.
type Neighbor struct {
	Addr         addr.Addr
	Position     r3.Vector
	Class        uint8 // semantics beyond the default 128 are unspecified; see DESIGN.md
	DropCount    int
	LocalNbrhood bool
	Present      bool
}

// Table is the fixed NumLatticeIndices-entry neighbor table of
// spec.md 4.6.
type Table struct {
	entries [NumLatticeIndices]Neighbor
}

// NewTable returns an empty neighbor table.
func NewTable() *Table {
	return &Table{}
}

// At returns the neighbor record at lattice index idx.
func (t *Table) At(idx int) Neighbor {
	return t.entries[idx]
}

// Update applies one cell's worth of observations. heard maps a
// lattice index (from beacon_order[dir][slot]) to the neighbor
// observed there this cell; indices absent from heard were not
// received this cell. selfPos is this node's own quantized position,
// used to set the LocalNbrhood bit.
//
// Returns true if this node's own location/neighbor state should be
// cleared to force a rejoin: fewer than half of the known neighbors
// were locally consistent this cell. While selfFinite is false there
// is no position to be consistent with, and it always returns false.
func (t *Table) Update(dir, slot int, order [6]int, heard map[int]Neighbor, selfPos r3.Vector, selfFinite bool) bool {
	threshold := math.Sqrt(3) * LatticeR
	known, consistent := 0, 0

	for _, idx := range order {
		if nbr, ok := heard[idx]; ok {
			nbr.DropCount = 0
			nbr.Present = true
			if selfFinite {
				nbr.LocalNbrhood = nbr.Position.Sub(selfPos).Norm() <= threshold
			}
			t.entries[idx] = nbr
		} else if t.entries[idx].Present {
			t.entries[idx].DropCount++
			if t.entries[idx].DropCount >= NbrDropMax {
				t.entries[idx] = Neighbor{}
			}
		}
	}

	for _, e := range t.entries {
		if e.Present {
			known++
			if e.LocalNbrhood {
				consistent++
			}
		}
	}
	if known == 0 || !selfFinite {
		return false
	}
	return consistent*2 < known
}

// LocalCount returns the number of neighbors currently flagged as
// within the local neighborhood radius.
func (t *Table) LocalCount() int {
	n := 0
	for _, e := range t.entries {
		if e.Present && e.LocalNbrhood {
			n++
		}
	}
	return n
}

// anyIndexAndPosition returns the lattice index and reported position
// of the lowest-indexed present neighbor, used as a local reference
// point by JoinBeacons while this node has no position estimate of its
// own.
func (t *Table) anyIndexAndPosition() (int, r3.Vector, bool) {
	for i, e := range t.entries {
		if e.Present {
			return i, e.Position, true
		}
	}
	return 0, r3.Vector{}, false
}

// IndexOf returns the lattice index of addr a if present, and ok.
func (t *Table) IndexOf(a addr.Addr) (int, bool) {
	for i, e := range t.entries {
		if e.Present && e.Addr == a {
			return i, true
		}
	}
	return 0, false
}
