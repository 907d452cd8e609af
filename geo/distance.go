package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6371000

// ErrShortRoute is returned when a route has fewer than two points and so
// has no segments to measure against.
var ErrShortRoute = errors.New("route needs at least 2 points")

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in meters between a and b.
func Haversine(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Projection is where a point lands on a segment. T is the clamped
// parameter along the segment, 0 at its start and 1 at its end.
type Projection struct {
	Point Point
	T     float64
}

// ProjectOntoSegment projects p onto the segment start-end, treating
// lat/lng as planar. That is fine at walking scale. T is clamped so the
// result never lies on the segment's extension.
func ProjectOntoSegment(p, start, end Point) Projection {
	vx := end.Lng - start.Lng
	vy := end.Lat - start.Lat
	wx := p.Lng - start.Lng
	wy := p.Lat - start.Lat

	t := 0.0
	if denom := vx*vx + vy*vy; denom > 0 {
		t = (wx*vx + wy*vy) / denom
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	return Projection{
		Point: Point{Lat: start.Lat + t*vy, Lng: start.Lng + t*vx},
		T:     t,
	}
}

// Nearest describes the closest spot on a route to some position.
type Nearest struct {
	// DistanceMeters is the haversine distance to the projected point.
	DistanceMeters float64
	// Index is the route vertex the position snaps to: the segment start,
	// or its end when the projection is past the segment midpoint.
	Index int
	// Segment is the index of the winning segment's start vertex.
	Segment int
	// Projected is the closest point on the route itself.
	Projected Point
}

// NearestOnRoute finds the closest point on route to p by projecting p
// onto every segment. The first minimum wins ties.
func NearestOnRoute(p Point, route []Point) (Nearest, error) {
	if len(route) < 2 {
		return Nearest{}, ErrShortRoute
	}

	best := Nearest{DistanceMeters: math.Inf(1)}
	for i := 0; i < len(route)-1; i++ {
		proj := ProjectOntoSegment(p, route[i], route[i+1])
		d := Haversine(p, proj.Point)
		if d < best.DistanceMeters {
			best = Nearest{
				DistanceMeters: d,
				Index:          i + int(math.Round(proj.T)),
				Segment:        i,
				Projected:      proj.Point,
			}
		}
	}
	return best, nil
}

// Length returns the total haversine length of a polyline in meters.
func Length(route []Point) float64 {
	total := 0.0
	for i := 1; i < len(route); i++ {
		total += Haversine(route[i-1], route[i])
	}
	return total
}
