package location

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbmesh/tschcore/internal/addr"
)

func TestBeaconEncodeParseRoundTrip(t *testing.T) {
	b := &Beacon{
		Class:        128,
		Dir:          5,
		Slot:         2,
		Offset:       6,
		Position:     r3.Vector{X: 1.5, Y: -2.5, Z: 3.0},
		R:            4.2,
		Theta:        1.1,
		Neighborhood: 0xABCD,
	}
	for i := range b.Tuples {
		b.Tuples[i] = Tuple{Addr: addr.Addr{byte(i), 1, 2, 3, 4, 5, 6, 7}, Tstamp: int32(i*100 - 50)}
	}

	wire := b.Encode()
	got, err := ParseBeacon(wire)
	require.NoError(t, err)

	assert.Equal(t, b.Class, got.Class)
	assert.Equal(t, b.Dir, got.Dir)
	assert.Equal(t, b.Slot, got.Slot)
	assert.Equal(t, b.Offset, got.Offset)
	assert.InDelta(t, b.Position.X, got.Position.X, 1e-5)
	assert.InDelta(t, b.Position.Y, got.Position.Y, 1e-5)
	assert.InDelta(t, b.Position.Z, got.Position.Z, 1e-5)
	assert.Equal(t, b.Neighborhood, got.Neighborhood)
	assert.Equal(t, b.Tuples, got.Tuples)
}

func TestParseBeaconTruncated(t *testing.T) {
	_, err := ParseBeacon(make([]byte, 10))
	assert.ErrorIs(t, err, ErrBeaconTruncated)
}
