package location

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestTimestampIndexBijectionProperty is property 4 of spec.md 8.
func TestTimestampIndexBijectionProperty(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < NumOffsets; i++ {
		for j := i + 1; j < NumOffsets; j++ {
			assert.Equal(t, Idx(i, j), Idx(j, i))
			idx := Idx(i, j)
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, NumTimestampPairs)
			assert.False(t, seen[idx], "index %d reused", idx)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, NumTimestampPairs)
}

// TestLatticeQuantizeIdempotenceProperty is property 5 of spec.md 8.
func TestLatticeQuantizeIdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := r3.Vector{
			X: rapid.Float64Range(-20, 20).Draw(t, "x"),
			Y: rapid.Float64Range(-20, 20).Draw(t, "y"),
			Z: rapid.Float64Range(-20, 20).Draw(t, "z"),
		}
		q1 := Quantize(p)
		q2 := Quantize(q1)
		assert.InDelta(t, q1.X, q2.X, 1e-9)
		assert.InDelta(t, q1.Y, q2.Y, 1e-9)
		assert.InDelta(t, q1.Z, q2.Z, 1e-9)
	})
}

// TestLatticeIndexRoundTripProperty is property 6 of spec.md 8.
func TestLatticeIndexRoundTripProperty(t *testing.T) {
	for i := 0; i < 19; i++ {
		p := Vectors[i].Mul(LatticeR)
		assert.Equal(t, i, IndexFromPoint(p), "index %d", i)
	}
}

// TestQuantizeScenarioS5 is scenario S5 of spec.md 8.
func TestQuantizeScenarioS5(t *testing.T) {
	p := r3.Vector{X: 0.907493, Y: 0.143357, Z: 3.036491}
	q := Quantize(p)
	assert.InDelta(t, 1.25, q.X, 1e-6)
	assert.InDelta(t, 1.25, q.Y, 1e-6)
	assert.InDelta(t, 2.5, q.Z, 1e-6)
}
