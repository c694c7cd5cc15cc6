package tsch

import "math"

// Bayes is the scalar access-probability estimator of spec.md 3: a
// transmit attempt fires when a uniform draw in [0,1) is below 1/v.
// v never drops below 1.
type Bayes struct {
	v float64
}

// NewBayes returns a Bayesian contention state at its minimum (most
// aggressive) setting.
func NewBayes() *Bayes {
	return &Bayes{v: 1}
}

// Try reports whether a transmit attempt should be made this slot,
// given a caller-supplied uniform draw in [0,1).
func (b *Bayes) Try(draw float64) bool {
	return draw < 1/b.v
}

// Success lowers v: the channel absorbed one more transmission than
// our estimate assumed.
func (b *Bayes) Success() {
	b.v = math.Max(1, b.v-1)
}

// Hole raises the access probability (lowers v) further: a slot with
// no traffic at all heard means we're being too conservative.
func (b *Bayes) Hole() {
	b.v = math.Max(1, b.v*(1-1/(b.v*math.E)))
}

// Fail raises v: a collision means we attempted too eagerly.
func (b *Bayes) Fail() {
	b.v = b.v * (1 + 1/(b.v*(math.E-2)))
}

// V returns the current raw estimator value.
func (b *Bayes) V() float64 { return b.v }
