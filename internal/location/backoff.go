package location

import "math"

// Backoff is the beacon-contention counter of spec.md 4.6: a
// transmitting beacon that finds its own address missing from a
// peer's reported tuples backs off linearly, and recovers
// multiplicatively once a cell confirms no conflict. Mirrors the
// shape of tsch.Bayes but with the spec's own update rule and caps.
type Backoff struct {
	n float64
}

// NewBackoff returns a beacon-contention counter at its minimum.
func NewBackoff() *Backoff {
	return &Backoff{n: 1}
}

// Fail records a detected conflict at this node's offset: absence of
// our own address in a peer's tuples.
func (b *Backoff) Fail() {
	b.n = math.Min(32, b.n+1)
}

// Success records a clean cell: a peer's tuples confirmed our
// transmission was heard.
func (b *Backoff) Success() {
	b.n = math.Max(1, b.n/2)
}

// N returns the current backoff count, the number of cells this node
// should skip before re-attempting contention for a beacon slot.
func (b *Backoff) N() int {
	return int(b.n)
}
