package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Region frames a route on a map: a center and the lat/lng span around it.
type Region struct {
	Center         Coordinate `json:"center"`
	LatitudeDelta  float64    `json:"latitude_delta"`
	LongitudeDelta float64    `json:"longitude_delta"`
}

// DefaultRegionDelta is the span used when a route has a single point.
const DefaultRegionDelta = 0.005

func LineString(route []Coordinate) orb.LineString {
	ls := make(orb.LineString, 0, len(route))
	for _, c := range route {
		ls = append(ls, c.Point())
	}
	return ls
}

func Bounds(route []Coordinate) orb.Bound {
	return LineString(route).Bound()
}

// RouteLength sums Distance over consecutive points.
func RouteLength(route []Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(route); i++ {
		total += Distance(route[i-1], route[i])
	}
	return total
}

// RegionFor returns the region covering route with padding applied as a
// fraction of the span on each side. Empty routes yield the zero Region.
func RegionFor(route []Coordinate, padding float64) Region {
	if len(route) == 0 {
		return Region{}
	}
	b := Bounds(route)
	latDelta := (b.Max.Lat() - b.Min.Lat()) * (1 + 2*padding)
	lngDelta := (b.Max.Lon() - b.Min.Lon()) * (1 + 2*padding)
	if latDelta < DefaultRegionDelta {
		latDelta = DefaultRegionDelta
	}
	if lngDelta < DefaultRegionDelta {
		lngDelta = DefaultRegionDelta
	}
	return Region{
		Center:         FromPoint(b.Center()),
		LatitudeDelta:  latDelta,
		LongitudeDelta: lngDelta,
	}
}

// RouteFeature renders route as a GeoJSON LineString feature for map clients.
func RouteFeature(route []Coordinate, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(LineString(route))
	for k, v := range props {
		f.Properties[k] = v
	}
	f.Properties["distance_m"] = RouteLength(route)
	if len(route) > 0 {
		f.BBox = geojson.NewBBox(Bounds(route))
	}
	return f
}
