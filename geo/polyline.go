package geo

import (
	"fmt"
	"math"
)

// DecodePolyline decodes a Google-style encoded polyline. Valhalla encodes
// its shapes with precision 6, OSRM and ORS with precision 5.
func DecodePolyline(encoded string, precision int) ([]Point, error) {
	factor := math.Pow10(precision)

	var points []Point
	lat, lng := 0, 0
	index := 0
	for index < len(encoded) {
		dlat, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		dlng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next

		lat += dlat
		lng += dlng
		points = append(points, Point{Lat: float64(lat) / factor, Lng: float64(lng) / factor})
	}
	return points, nil
}

// decodeValue consumes one zig-zag varint starting at index.
func decodeValue(encoded string, index int) (int, int, error) {
	shift, result := 0, 0
	for {
		if index >= len(encoded) {
			return 0, index, fmt.Errorf("truncated polyline at offset %d", index)
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}
