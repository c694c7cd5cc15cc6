// Package location implements the 3D self-localization engine of
// spec.md 4.6: the rhombic-dodecahedral lattice geometry, the
// six-offset loc-slot cell protocol, the neighbor table, and the
// trilateration/TDOA solvers that turn measured ranges into a position.
package location

import (
	"math"

	"github.com/golang/geo/r3"
)

// LatticeR is the tuned lattice radius (spec.md 4.6).
const LatticeR = 2.5

// NumLatticeIndices is the size of the canonical local neighborhood.
const NumLatticeIndices = 20

// SentinelIndex marks "not in local neighborhood" — a relpos or
// vector slot with no small-norm relation in the canonical table
// (spec.md 4.6: "plus a sentinel 17").
const SentinelIndex = 17

// Vectors holds the lattice-normalized offset of each canonical index
// from the origin; the real-space point is LatticeR*Vectors[i]
// (spec.md testable property 6).
var Vectors [NumLatticeIndices]r3.Vector

// RelPos[i][j] is the lattice index of the relative position from i to
// j (spec.md 4.6 table ii).
var RelPos [NumLatticeIndices][NumLatticeIndices]int

func init() {
	buildVectors()
	buildRelPos()
}

// latticeTriple recovers the staggered integer lattice coordinates
// (ix, iy, iz) of a real-space point already on the lattice (spec.md
// 4.6 quantization: "the 20-index of q is recovered from the (x-3y)
// pattern modulo 10 on alternating z-sheets").
func latticeTriple(q r3.Vector) (ix, iy, iz int) {
	iz = int(math.Round(q.Z / LatticeR))
	qz := float64(iz) * LatticeR
	ix = int(math.Round((q.X - qz/2) / LatticeR))
	iy = int(math.Round((q.Y - qz/2) / LatticeR))
	return
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// indexFromTriple implements the canonical (x-3y) mod 10, alternating
// z-sheet index recovery.
func indexFromTriple(ix, iy, iz int) int {
	sheet := mod(iz, 2)
	base := mod(ix-3*iy, 10)
	return base + sheet*10
}

// buildVectors enumerates, for each canonical index, the
// minimum-taxicab-norm (ix, iy) pair on its z-sheet that maps to it —
// the nearest representative lattice point for that index.
func buildVectors() {
	for idx := 0; idx < NumLatticeIndices; idx++ {
		sheet := idx / 10
		base := idx % 10
		bestIx, bestIy := 0, 0
		bestNorm := math.MaxInt32
		for ix := -6; ix <= 6; ix++ {
			for iy := -6; iy <= 6; iy++ {
				if mod(ix-3*iy, 10) != base {
					continue
				}
				norm := abs(ix) + abs(iy)
				if norm < bestNorm {
					bestNorm = norm
					bestIx, bestIy = ix, iy
				}
			}
		}
		iz := sheet
		Vectors[idx] = r3.Vector{
			X: float64(bestIx) + float64(iz)/2,
			Y: float64(bestIy) + float64(iz)/2,
			Z: float64(iz),
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func buildRelPos() {
	for i := 0; i < NumLatticeIndices; i++ {
		for j := 0; j < NumLatticeIndices; j++ {
			rel := Vectors[j].Sub(Vectors[i])
			ix, iy, iz := latticeTriple(rel.Mul(LatticeR))
			if abs(ix) > 6 || abs(iy) > 6 {
				RelPos[i][j] = SentinelIndex
				continue
			}
			RelPos[i][j] = indexFromTriple(ix, iy, iz)
		}
	}
}

// Quantize maps a real position p to the nearest lattice point via the
// staggered z-sheet change of coordinates of spec.md 4.6.
func Quantize(p r3.Vector) r3.Vector {
	ix, iy, iz := latticeTriple(p)
	qz := float64(iz) * LatticeR
	return r3.Vector{
		X: float64(ix)*LatticeR + qz/2,
		Y: float64(iy)*LatticeR + qz/2,
		Z: qz,
	}
}

// IndexFromPoint recovers the canonical lattice index of an
// already-quantized point q.
func IndexFromPoint(q r3.Vector) int {
	ix, iy, iz := latticeTriple(q)
	return indexFromTriple(ix, iy, iz)
}
