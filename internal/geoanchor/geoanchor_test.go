package geoanchor

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnchorFromLatLngKnownPoint(t *testing.T) {
	a, err := NewAnchorFromLatLng(42.662139, -71.365553)
	require.NoError(t, err)
	assert.Equal(t, 19, a.Zone)
	assert.Equal(t, 'N', HemisphereRune(a.Hemisphere))
	assert.InDelta(t, 306130, a.Easting, 1)
	assert.InDelta(t, 4726010, a.Northing, 1)
}

func TestAnchorRoundTrip(t *testing.T) {
	a, err := NewAnchorFromLatLng(42.662139, -71.365553)
	require.NoError(t, err)

	lat, lon, err := a.ToLatLng(r3.Vector{})
	require.NoError(t, err)
	assert.InDelta(t, 42.662139, lat, 1e-4)
	assert.InDelta(t, -71.365553, lon, 1e-4)
}

func TestAnchorOffsetMovesEastAndNorth(t *testing.T) {
	a, err := NewAnchorFromLatLng(0, 0)
	require.NoError(t, err)

	lat0, lon0, err := a.ToLatLng(r3.Vector{})
	require.NoError(t, err)
	lat1, lon1, err := a.ToLatLng(r3.Vector{X: 1000, Y: 1000})
	require.NoError(t, err)

	assert.Greater(t, lat1, lat0)
	assert.Greater(t, lon1, lon0)
}
