// Package geo holds the great-circle math used for distance accumulation,
// lap detection and marker orientation.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusM is the mean Earth radius used by every distance in the service.
const EarthRadiusM = 6371000.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point converts to orb's lon/lat ordering.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// FromPoint converts an orb lon/lat point back to a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Latitude: p.Lat(), Longitude: p.Lon()}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the haversine distance between a and b in meters.
// NaN and Inf inputs propagate.
func Distance(a, b Coordinate) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLng := toRad(b.Longitude - a.Longitude)
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// floating point can push h a hair past 1 for antipodal points
	if h > 1 {
		h = 1
	} else if h < 0 {
		h = 0
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// Bearing returns the initial bearing from a to b in degrees, in [0, 360).
func Bearing(a, b Coordinate) float64 {
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)
	dLng := toRad(b.Longitude - a.Longitude)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// RouteBearing orients a direction marker along the last segment of route.
func RouteBearing(route []Coordinate) float64 {
	if len(route) < 2 {
		return 0
	}
	return Bearing(route[len(route)-2], route[len(route)-1])
}
