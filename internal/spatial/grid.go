// Package spatial turns scattered station values into a regular
// concentration grid.
package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Grid errors.
var (
	ErrInvalidCellSize = errors.New("cell size must be positive and finite")
	ErrInvalidBox      = errors.New("invalid bounding box")
	ErrLatticeTooLarge = errors.New("lattice exceeds the cell limit")
)

// MaxLatticeCells bounds the number of cells a single lattice may hold.
const MaxLatticeCells = 1_000_000

// latticeTolerance is the fraction of a cell by which a coordinate may overshoot
// the box maximum and still be part of the lattice.
const latticeTolerance = 1e-9

// Point is a known value at a location.
type Point struct {
	Location string
	Lat      float64
	Lon      float64
	Value    float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// BoundingBox is a lat/lon rectangle in degrees.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// BoxFromBound converts an orb bound (X is longitude) to a BoundingBox.
func BoxFromBound(b orb.Bound) BoundingBox {
	return BoundingBox{MinLat: b.Min.Lat(), MinLon: b.Min.Lon(), MaxLat: b.Max.Lat(), MaxLon: b.Max.Lon()}
}

// Bound returns the box as an orb bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// Validate checks that the box is finite and not inverted.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinLat, b.MinLon, b.MaxLat, b.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBox)
		}
	}
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return fmt.Errorf("%w: min corner (%g, %g) is above max corner (%g, %g)",
			ErrInvalidBox, b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
	}
	return nil
}

// BoundsOf returns the extent of the points with a finite value.
// The boolean is false when there is none.
func BoundsOf(points []Point) (BoundingBox, bool) {
	var mp orb.MultiPoint
	for _, p := range points {
		if isFinite(p.Value) {
			mp = append(mp, p.orb())
		}
	}
	if len(mp) == 0 {
		return BoundingBox{}, false
	}
	return BoxFromBound(mp.Bound()), true
}

// Cell is one evaluated lattice coordinate. Value is NaN when no value
// could be computed.
type Cell struct {
	Lat   float64
	Lon   float64
	Value float64
}

// Grid is a set of cells covering a box at a fixed cell size, ordered by
// longitude, then latitude.
type Grid struct {
	CellSize float64
	Box      BoundingBox
	Cells    []Cell
}

// Absent returns the number of cells without a value.
func (g *Grid) Absent() int {
	n := 0
	for _, c := range g.Cells {
		if math.IsNaN(c.Value) {
			n++
		}
	}
	return n
}

// At returns the cell at (lat, lon), matching coordinates to within a
// fraction of the cell size.
func (g *Grid) At(lat, lon float64) (Cell, bool) {
	tol := g.CellSize * 1e-6
	for _, c := range g.Cells {
		if math.Abs(c.Lat-lat) <= tol && math.Abs(c.Lon-lon) <= tol {
			return c, true
		}
	}
	return Cell{}, false
}

// Lattice returns the evaluation coordinates of box at cellSize: longitudes
// from MinLon and latitudes from MinLat in cellSize steps up to the maxima.
// Cells are ordered longitude first, then latitude. A lattice over
// MaxLatticeCells fails with ErrLatticeTooLarge.
func Lattice(box BoundingBox, cellSize float64) ([]Cell, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidCellSize, cellSize)
	}
	if err := box.Validate(); err != nil {
		return nil, err
	}

	fLon := steps(box.MinLon, box.MaxLon, cellSize)
	fLat := steps(box.MinLat, box.MaxLat, cellSize)
	if fLon*fLat > MaxLatticeCells {
		return nil, fmt.Errorf("%w: %.0f x %.0f cells at %g", ErrLatticeTooLarge, fLon, fLat, cellSize)
	}
	nLon, nLat := int(fLon), int(fLat)

	cells := make([]Cell, 0, nLon*nLat)
	for i := 0; i < nLon; i++ {
		lon := box.MinLon + float64(i)*cellSize
		for j := 0; j < nLat; j++ {
			cells = append(cells, Cell{
				Lat:   box.MinLat + float64(j)*cellSize,
				Lon:   lon,
				Value: math.NaN(),
			})
		}
	}
	return cells, nil
}

// steps counts lattice coordinates along one axis. It stays a float so huge
// counts can be rejected before conversion.
func steps(lo, hi, cellSize float64) float64 {
	return math.Floor((hi-lo)/cellSize+latticeTolerance) + 1
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
