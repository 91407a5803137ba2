// Package polyline encodes and decodes Google encoded polylines as orb geometries.
// The format is documented at https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrMalformed is returned for strings that are not valid encoded polylines.
var ErrMalformed = errors.New("malformed polyline")

const precision = 1e5

// Decode decodes an encoded polyline. Points are orb order: longitude, latitude.
func Decode(encoded string) (orb.LineString, error) {
	if encoded == "" {
		return nil, nil
	}

	var (
		line     orb.LineString
		lat, lon int
		index    int
	)
	for index < len(encoded) {
		latDelta, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		lonDelta, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next

		lat += latDelta
		lon += lonDelta
		line = append(line, orb.Point{float64(lon) / precision, float64(lat) / precision})
	}

	return line, nil
}

// DecodeRing decodes an encoded polyline as a closed ring. The first point is
// repeated at the end when the encoding leaves the ring open.
func DecodeRing(encoded string) (orb.Ring, error) {
	line, err := Decode(encoded)
	if err != nil {
		return nil, err
	}
	if len(line) < 3 {
		return nil, fmt.Errorf("%w: a ring needs at least 3 points, got %d", ErrMalformed, len(line))
	}

	ring := orb.Ring(line)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

func decodeValue(encoded string, index int) (int, int, error) {
	shift, result := 0, 0
	for {
		if index >= len(encoded) {
			return 0, index, fmt.Errorf("%w: truncated at byte %d", ErrMalformed, index)
		}
		b := int(encoded[index]) - 63
		if b < 0 || b > 0x3f {
			return 0, index, fmt.Errorf("%w: invalid byte %q at %d", ErrMalformed, encoded[index], index)
		}
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
		if shift > 30 {
			return 0, index, fmt.Errorf("%w: value too long at byte %d", ErrMalformed, index)
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}

// Encode encodes a line string at five decimal places.
func Encode(line orb.LineString) string {
	if len(line) == 0 {
		return ""
	}

	buf := make([]byte, 0, len(line)*8)
	var prevLat, prevLon int
	for _, p := range line {
		lat := int(math.Round(p.Lat() * precision))
		lon := int(math.Round(p.Lon() * precision))

		buf = encodeValue(buf, lat-prevLat)
		buf = encodeValue(buf, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return string(buf)
}

// EncodeRing encodes a ring, including its closing point.
func EncodeRing(ring orb.Ring) string {
	return Encode(orb.LineString(ring))
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}
	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}
