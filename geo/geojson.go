package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LineString converts a route into an orb line string ([lng, lat] order).
func LineString(route []Point) orb.LineString {
	ls := make(orb.LineString, len(route))
	for i, p := range route {
		ls[i] = orb.Point{p.Lng, p.Lat}
	}
	return ls
}

// OrbPoint converts p into an orb point.
func OrbPoint(p Point) orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// LineFeature wraps a route as a GeoJSON feature carrying a "part" property,
// e.g. "traveled" or "remaining". Routes shorter than 2 points yield nil.
func LineFeature(part string, route []Point) *geojson.Feature {
	if len(route) < 2 {
		return nil
	}
	f := geojson.NewFeature(LineString(route))
	f.Properties["part"] = part
	return f
}

// PointFeature wraps a single position as a GeoJSON feature.
func PointFeature(part string, p Point) *geojson.Feature {
	f := geojson.NewFeature(OrbPoint(p))
	f.Properties["part"] = part
	return f
}
