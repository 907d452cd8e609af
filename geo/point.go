// Package geo holds the coordinate math used to follow a walking route:
// great-circle distances, projecting a position onto a polyline and the
// handful of encodings routing services hand coordinates back in.
package geo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Point is a WGS84 position in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var latLngPattern = regexp.MustCompile(`^\s*-?\d+(?:\.\d+)?\s*,\s*-?\d+(?:\.\d+)?\s*$`)

// IsLatLng reports whether s is a literal "lat,lng" pair.
func IsLatLng(s string) bool {
	return latLngPattern.MatchString(s)
}

// ParseLatLng parses a string like "14.5995,120.9842" into a Point.
func ParseLatLng(s string) (Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("invalid lat,lng format: %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Point{}, fmt.Errorf("coordinate out of range: %q", s)
	}

	return Point{Lat: lat, Lng: lng}, nil
}

// String formats p as "lat,lng" with six decimals, which ParseLatLng reads back.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// FromLngLat builds a Point from a GeoJSON-ordered [lng, lat] pair.
func FromLngLat(c []float64) (Point, bool) {
	if len(c) < 2 {
		return Point{}, false
	}
	return Point{Lat: c[1], Lng: c[0]}, true
}
