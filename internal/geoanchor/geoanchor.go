// Package geoanchor ties the dimensionless 3D lattice coordinates used
// by the location engine to real-world latitude/longitude, so a
// deployment can be overlaid on a map. A mesh has no inherent
// geographic frame: one node is configured as the anchor, pinning
// lattice-space (0,0,0) to a surveyed UTM position, and every other
// node's lattice position is reported relative to it (spec.md 4.6
// reports positions in an arbitrary lattice frame; this is purely a
// display-time convenience, not part of the localization algorithm).
package geoanchor

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/golang/geo/r3"
	"github.com/tzneal/coordconv"
)

func d2r(deg float64) float64 { return deg * math.Pi / 180 }
func r2d(rad float64) float64 { return rad * 180 / math.Pi }

// Anchor pins lattice (0,0,0), in meters, to a surveyed UTM coordinate.
type Anchor struct {
	Zone       int
	Hemisphere coordconv.Hemisphere
	Easting    float64
	Northing   float64
}

// NewAnchorFromLatLng surveys lat/lon (decimal degrees) into a UTM
// anchor point.
func NewAnchorFromLatLng(lat, lon float64) (Anchor, error) {
	latlng := s2.LatLng{Lat: s1.Angle(d2r(lat)), Lng: s1.Angle(d2r(lon))}
	utm, err := coordconv.DefaultUTMConverter.ConvertFromGeodetic(latlng, 0)
	if err != nil {
		return Anchor{}, fmt.Errorf("geoanchor: survey lat/lon: %w", err)
	}
	return Anchor{Zone: utm.Zone, Hemisphere: utm.Hemisphere, Easting: utm.Easting, Northing: utm.Northing}, nil
}

// ToLatLng converts a lattice-space position (meters, relative to the
// anchor) into decimal-degree latitude/longitude. Lattice X/Y map
// directly onto UTM easting/northing; lattice Z (altitude) is dropped,
// since UTM has no vertical axis.
func (a Anchor) ToLatLng(pos r3.Vector) (lat, lon float64, err error) {
	utm := coordconv.UTMCoord{
		Zone:       a.Zone,
		Hemisphere: a.Hemisphere,
		Easting:    a.Easting + pos.X,
		Northing:   a.Northing + pos.Y,
	}
	latlng, cerr := coordconv.DefaultUTMConverter.ConvertToGeodetic(utm)
	if cerr != nil {
		return 0, 0, fmt.Errorf("geoanchor: convert to lat/lon: %w", cerr)
	}
	return r2d(float64(latlng.Lat)), r2d(float64(latlng.Lng)), nil
}

// HemisphereRune renders a coordconv.Hemisphere as 'N', 'S', or '!' for
// an invalid value.
func HemisphereRune(h coordconv.Hemisphere) rune {
	switch h {
	case coordconv.HemisphereNorth:
		return 'N'
	case coordconv.HemisphereSouth:
		return 'S'
	default:
		return '!'
	}
}
