package location

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// SolveStatus reports the outcome of a solver attempt (spec.md 7:
// "solver degeneracy ... the solver reports a skip status").
type SolveStatus int

const (
	SolveOK SolveStatus = iota
	SolveInaccurate
	SolveNonfinite
	SolveDegenerate
)

// DW1000TimeRes is the nominal seconds-per-tick resolution of the
// radio's timestamp counter (spec.md 4.6).
const DW1000TimeRes = 15.65e-12

// SpeedOfLight is in meters/second.
const SpeedOfLight = 299792458.0

// TicksToMeters converts a tick-domain distance into meters.
func TicksToMeters(ticks float64) float64 {
	return ticks * DW1000TimeRes * SpeedOfLight
}

// SolveTOA implements spec.md 4.6's time-of-arrival solver: an
// over-determined linear system from pairwise differences of
// ‖x-p_i‖²=d_i², solved by least squares. Requires at least 4
// non-coplanar beacons.
func SolveTOA(beacons []r3.Vector, distances []float64) (r3.Vector, SolveStatus) {
	n := len(beacons)
	if n < 4 || len(distances) != n {
		return r3.Vector{}, SolveDegenerate
	}
	if coplanarPoints(beacons) {
		return r3.Vector{}, SolveDegenerate
	}

	rows := n - 1
	a := mat.NewDense(rows, 3, nil)
	b := mat.NewVecDense(rows, nil)

	p0 := beacons[0]
	d0 := distances[0]
	for i := 1; i < n; i++ {
		pi := beacons[i]
		di := distances[i]
		a.SetRow(i-1, []float64{
			2 * (p0.X - pi.X),
			2 * (p0.Y - pi.Y),
			2 * (p0.Z - pi.Z),
		})
		rhs := di*di - d0*d0 - p0.Dot(p0) + pi.Dot(pi)
		b.SetVec(i-1, rhs)
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return r3.Vector{}, SolveDegenerate
	}

	sol := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	if !finiteVector(sol) {
		return r3.Vector{}, SolveNonfinite
	}
	return sol, SolveOK
}

// SolveTDOA implements spec.md 4.6's TDOA solver: solves the
// two-parameter family x = a + b*d0 substituted into
// (x-p0)^2 = d0^2, rejecting solutions that lie more than sqrt(3)*R
// from every participating beacon. Requires at least 4 pseudoranges.
func SolveTDOA(p0 r3.Vector, beacons []r3.Vector, pseudoranges []float64) (r3.Vector, SolveStatus) {
	n := len(beacons)
	if n < 4 || len(pseudoranges) != n {
		return r3.Vector{}, SolveDegenerate
	}

	// Linear system for a, b (each in R^3): for i=1..n,
	// 2*(pi-p0)·a + (ri^2 + 2*ri*d0...) -- standard TDOA linearization.
	// We solve for the affine map x = a + b*d0 by least squares over the
	// n equations 2*(p0-pi)·x = (pseudorange_i)^2 + 2*pseudorange_i*d0 +
	// ‖p0‖² - ‖pi‖², treating d0 as unknown alongside x (4 unknowns).
	rows := n
	A := mat.NewDense(rows, 4, nil)
	bb := mat.NewVecDense(rows, nil)
	for i := 0; i < n; i++ {
		pi := beacons[i]
		ri := pseudoranges[i]
		A.SetRow(i, []float64{
			2 * (p0.X - pi.X),
			2 * (p0.Y - pi.Y),
			2 * (p0.Z - pi.Z),
			-2 * ri,
		})
		rhs := ri*ri + p0.Dot(p0) - pi.Dot(pi)
		bb.SetVec(i, rhs)
	}

	var qr mat.QR
	qr.Factorize(A)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, bb); err != nil {
		return r3.Vector{}, SolveDegenerate
	}

	x := r3.Vector{X: sol.AtVec(0), Y: sol.AtVec(1), Z: sol.AtVec(2)}
	if !finiteVector(x) {
		return r3.Vector{}, SolveNonfinite
	}

	threshold := math.Sqrt(3) * LatticeR
	minDist := x.Sub(p0).Norm()
	for _, p := range beacons {
		d := x.Sub(p).Norm()
		if d < minDist {
			minDist = d
		}
	}
	if minDist > threshold {
		return x, SolveInaccurate
	}
	return x, SolveOK
}

// Solve3Sphere implements spec.md 4.6's coplanar-but-index-known
// fallback: an analytic three-sphere intersection, which always has
// two candidate solutions reflected across the plane of the three
// centers. The ambiguity is resolved by comparing the chirality of
// the candidate against the chirality of the known lattice vectors at
// refIndices, the canonical indices of centers[0..2].
func Solve3Sphere(centers [3]r3.Vector, distances [3]float64, refIndices [3]int) (r3.Vector, SolveStatus) {
	p0, p1, p2 := centers[0], centers[1], centers[2]
	r0, r1, r2 := distances[0], distances[1], distances[2]

	ex := p1.Sub(p0)
	d := ex.Norm()
	if d < 1e-9 {
		return r3.Vector{}, SolveDegenerate
	}
	ex = ex.Mul(1 / d)

	p2p0 := p2.Sub(p0)
	i := ex.Dot(p2p0)
	eyRaw := p2p0.Sub(ex.Mul(i))
	j := eyRaw.Norm()
	if j < 1e-9 {
		return r3.Vector{}, SolveDegenerate
	}
	ey := eyRaw.Mul(1 / j)
	ez := ex.Cross(ey)

	x := (r0*r0 - r1*r1 + d*d) / (2 * d)
	y := (r0*r0-r2*r2+i*i+j*j-2*i*x) / (2 * j)
	zSq := r0*r0 - x*x - y*y
	if zSq < 0 {
		return r3.Vector{}, SolveDegenerate
	}
	z := math.Sqrt(zSq)

	base := p0.Add(ex.Mul(x)).Add(ey.Mul(y))
	candA := base.Add(ez.Mul(z))
	candB := base.Add(ez.Mul(-z))
	if !finiteVector(candA) || !finiteVector(candB) {
		return r3.Vector{}, SolveNonfinite
	}
	if z < 1e-9 {
		return candA, SolveOK
	}

	latticeSign := sign(Vectors[refIndices[0]].Dot(Vectors[refIndices[1]].Cross(Vectors[refIndices[2]])))
	planeNormal := p1.Sub(p0).Cross(p2.Sub(p0))
	if sign(candA.Sub(p0).Dot(planeNormal)) == latticeSign {
		return candA, SolveOK
	}
	return candB, SolveOK
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// SolveSprings implements spec.md 4.6's preferred in-place refinement
// for a node that is already a beacon with a finite position: each
// measured distance behaves as a spring pulling pos toward the
// distance reported by that beacon, a small constant term pulls
// toward the nearest lattice point, and a damping term bleeds
// velocity so the system settles rather than oscillates.
func SolveSprings(pos, vel r3.Vector, beacons []r3.Vector, distances []float64, dt float64) (r3.Vector, r3.Vector) {
	const (
		springK  = 1.0
		latticeK = 0.05
		dampingK = 0.3
	)

	var force r3.Vector
	for i, b := range beacons {
		offset := pos.Sub(b)
		n := offset.Norm()
		if n < 1e-9 {
			continue
		}
		stretch := distances[i] - n
		force = force.Add(offset.Mul(stretch / n * springK))
	}
	force = force.Add(Quantize(pos).Sub(pos).Mul(latticeK))
	force = force.Sub(vel.Mul(dampingK))

	newVel := vel.Add(force.Mul(dt))
	newPos := pos.Add(newVel.Mul(dt))
	return newPos, newVel
}

// SolveOneLine implements spec.md 4.6's bootstrap for canonical index
// 4, which this implementation's beacon_order cycling places one hop
// from the root along a single known direction: given only the root's
// position and a measured distance to it, place the candidate along
// the ideal lattice direction from the root to targetIndex.
func SolveOneLine(root r3.Vector, distRoot float64, targetIndex int) (r3.Vector, SolveStatus) {
	dir := Vectors[RelPos[0][targetIndex]]
	n := dir.Norm()
	if n < 1e-9 {
		return r3.Vector{}, SolveDegenerate
	}
	sol := root.Add(dir.Mul(distRoot / n))
	if !finiteVector(sol) {
		return r3.Vector{}, SolveNonfinite
	}
	return sol, SolveOK
}

// SolveTwoCircle implements spec.md 4.6's bootstrap for the two-known-
// beacon case (canonical indices 9 and 13): intersect the two circles
// formed by the measured distances within the plane spanned by the two
// beacons and the ideal lattice point, picking whichever of the two
// candidates lies nearer the ideal lattice position for targetIndex.
func SolveTwoCircle(p0, p1 r3.Vector, d0, d1 float64, targetIndex int) (r3.Vector, SolveStatus) {
	ideal := p0.Add(Vectors[targetIndex].Sub(Vectors[0]).Mul(LatticeR))

	ex := p1.Sub(p0)
	d := ex.Norm()
	if d < 1e-9 {
		return r3.Vector{}, SolveDegenerate
	}
	ex = ex.Mul(1 / d)

	// Third reference point out of the (p0,p1) line, taken from the
	// ideal lattice point, to fix a plane for the two-circle solve.
	toIdeal := ideal.Sub(p0)
	i := ex.Dot(toIdeal)
	eyRaw := toIdeal.Sub(ex.Mul(i))
	j := eyRaw.Norm()
	if j < 1e-9 {
		return r3.Vector{}, SolveDegenerate
	}
	ey := eyRaw.Mul(1 / j)

	x := (d0*d0 - d1*d1 + d*d) / (2 * d)
	ySq := d0*d0 - x*x
	if ySq < 0 {
		return r3.Vector{}, SolveDegenerate
	}
	y := math.Sqrt(ySq)

	candA := p0.Add(ex.Mul(x)).Add(ey.Mul(y))
	candB := p0.Add(ex.Mul(x)).Add(ey.Mul(-y))
	if !finiteVector(candA) || !finiteVector(candB) {
		return r3.Vector{}, SolveNonfinite
	}
	if candA.Sub(ideal).Norm() <= candB.Sub(ideal).Norm() {
		return candA, SolveOK
	}
	return candB, SolveOK
}

func finiteVector(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

// coplanarPoints reports whether all points lie on a common plane
// (degenerate for TOA, which needs a genuine 3D fix).
func coplanarPoints(pts []r3.Vector) bool {
	if len(pts) < 4 {
		return true
	}
	p0 := pts[0]
	v1 := pts[1].Sub(p0)
	v2 := pts[2].Sub(p0)
	normal := v1.Cross(v2)
	if normal.Norm() < 1e-9 {
		return true // first three points themselves are colinear
	}
	for _, p := range pts[3:] {
		v := p.Sub(p0)
		if math.Abs(v.Dot(normal)) > 1e-6*normal.Norm() {
			return false
		}
	}
	return true
}
