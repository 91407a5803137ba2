package spatial

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrUnsupportedBoundary is returned for clip geometries that enclose no area.
var ErrUnsupportedBoundary = errors.New("boundary must be a ring, polygon or multipolygon")

// Clip returns a copy of grid holding only the cells inside boundary.
func Clip(grid *Grid, boundary orb.Geometry) (*Grid, error) {
	var contains func(orb.Point) bool
	switch b := boundary.(type) {
	case orb.Ring:
		contains = func(p orb.Point) bool { return planar.RingContains(b, p) }
	case orb.Polygon:
		contains = func(p orb.Point) bool { return planar.PolygonContains(b, p) }
	case orb.MultiPolygon:
		contains = func(p orb.Point) bool { return planar.MultiPolygonContains(b, p) }
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedBoundary, boundary)
	}

	out := &Grid{CellSize: grid.CellSize, Box: grid.Box}
	for _, c := range grid.Cells {
		if contains(orb.Point{c.Lon, c.Lat}) {
			out.Cells = append(out.Cells, c)
		}
	}
	return out, nil
}
