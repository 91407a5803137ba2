package spatial_test

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqfield/aqfield/internal/spatial"
)

func TestLattice_Order(t *testing.T) {
	cells, err := spatial.Lattice(spatial.BoundingBox{MinLat: 10, MinLon: 20, MaxLat: 11, MaxLon: 21}, 1)
	require.NoError(t, err)

	require.Len(t, cells, 4)
	assert.Equal(t, [2]float64{20, 10}, [2]float64{cells[0].Lon, cells[0].Lat})
	assert.Equal(t, [2]float64{20, 11}, [2]float64{cells[1].Lon, cells[1].Lat})
	assert.Equal(t, [2]float64{21, 10}, [2]float64{cells[2].Lon, cells[2].Lat})
	assert.Equal(t, [2]float64{21, 11}, [2]float64{cells[3].Lon, cells[3].Lat})
}

func TestLattice_IncludesMaxWithinTolerance(t *testing.T) {
	// 0.3/0.1 is slightly below 3 in floating point.
	cells, err := spatial.Lattice(spatial.BoundingBox{MaxLat: 0.3, MaxLon: 0}, 0.1)
	require.NoError(t, err)
	assert.Len(t, cells, 4)
}

func TestLattice_StopsBeforeExceedingMax(t *testing.T) {
	cells, err := spatial.Lattice(spatial.BoundingBox{MaxLat: 0.25, MaxLon: 0.25}, 0.1)
	require.NoError(t, err)
	assert.Len(t, cells, 9)
}

func TestLattice_DegenerateBox(t *testing.T) {
	cells, err := spatial.Lattice(spatial.BoundingBox{MinLat: 5, MinLon: 5, MaxLat: 5, MaxLon: 5}, 0.01)
	require.NoError(t, err)
	assert.Len(t, cells, 1)
}

func TestLattice_InvalidBox(t *testing.T) {
	_, err := spatial.Lattice(spatial.BoundingBox{MinLat: 2, MaxLat: 1}, 0.1)
	assert.ErrorIs(t, err, spatial.ErrInvalidBox)
}

func TestLattice_TooLarge(t *testing.T) {
	box := spatial.BoundingBox{MinLat: 19, MinLon: -100, MaxLat: 20, MaxLon: -99}

	_, err := spatial.Lattice(box, 1e-9)
	assert.ErrorIs(t, err, spatial.ErrLatticeTooLarge)

	_, err = spatial.Lattice(box, math.SmallestNonzeroFloat64)
	assert.ErrorIs(t, err, spatial.ErrLatticeTooLarge)

	cells, err := spatial.Lattice(box, 0.002)
	require.NoError(t, err)
	assert.Len(t, cells, 501*501)
}

func TestLattice_AtCellLimit(t *testing.T) {
	cells, err := spatial.Lattice(spatial.BoundingBox{MaxLat: 999, MaxLon: 999}, 1)
	require.NoError(t, err)
	assert.Len(t, cells, spatial.MaxLatticeCells)

	_, err = spatial.Lattice(spatial.BoundingBox{MaxLat: 1000, MaxLon: 999}, 1)
	assert.ErrorIs(t, err, spatial.ErrLatticeTooLarge)
}

func TestBoundsOf(t *testing.T) {
	box, ok := spatial.BoundsOf([]spatial.Point{
		{Lat: 19.3, Lon: -99.2, Value: 1},
		{Lat: 19.5, Lon: -99.0, Value: 2},
		{Lat: 40, Lon: 40, Value: nan()},
	})
	require.True(t, ok)
	assert.Equal(t, spatial.BoundingBox{MinLat: 19.3, MinLon: -99.2, MaxLat: 19.5, MaxLon: -99.0}, box)

	assert.Equal(t, orb.Bound{Min: orb.Point{-99.2, 19.3}, Max: orb.Point{-99.0, 19.5}}, box.Bound())
	assert.Equal(t, box, spatial.BoxFromBound(box.Bound()))

	_, ok = spatial.BoundsOf(nil)
	assert.False(t, ok)
}

func TestGrid_At(t *testing.T) {
	grid, err := spatial.NewInterpolator(spatial.DefaultConfig()).
		Interpolate([]spatial.Point{{Lat: 0, Lon: 0, Value: 1}}, spatial.BoundingBox{MaxLat: 1, MaxLon: 1}, 0.5)
	require.NoError(t, err)

	cell, ok := grid.At(0.5, 1)
	require.True(t, ok)
	assert.Equal(t, 1.0, cell.Value)

	_, ok = grid.At(0.25, 1)
	assert.False(t, ok)
}

func TestClip(t *testing.T) {
	grid, err := spatial.NewInterpolator(spatial.DefaultConfig()).
		Interpolate([]spatial.Point{{Lat: 0, Lon: 0, Value: 1}}, spatial.BoundingBox{MaxLat: 4, MaxLon: 4}, 1)
	require.NoError(t, err)
	require.Len(t, grid.Cells, 25)

	square := orb.Polygon{orb.Ring{{0.5, 0.5}, {2.5, 0.5}, {2.5, 2.5}, {0.5, 2.5}, {0.5, 0.5}}}

	clipped, err := spatial.Clip(grid, square)
	require.NoError(t, err)
	assert.Len(t, clipped.Cells, 4)
	assert.Len(t, grid.Cells, 25, "input grid is unchanged")

	multi, err := spatial.Clip(grid, orb.MultiPolygon{square})
	require.NoError(t, err)
	assert.Equal(t, clipped.Cells, multi.Cells)

	ring, err := spatial.Clip(grid, square[0])
	require.NoError(t, err)
	assert.Equal(t, clipped.Cells, ring.Cells)

	_, err = spatial.Clip(grid, orb.LineString{{0, 0}, {1, 1}})
	assert.ErrorIs(t, err, spatial.ErrUnsupportedBoundary)
}

func TestGrid_FeatureCollection(t *testing.T) {
	grid := &spatial.Grid{
		CellSize: 1,
		Cells: []spatial.Cell{
			{Lat: 1, Lon: 2, Value: 3},
			{Lat: 4, Lon: 5, Value: nan()},
		},
	}

	fc := grid.FeatureCollection()
	require.Len(t, fc.Features, 2)
	assert.Equal(t, orb.Point{2, 1}, fc.Features[0].Geometry)
	assert.Equal(t, 3.0, fc.Features[0].Properties["value"])
	assert.Nil(t, fc.Features[1].Properties["value"])
}

func nan() float64 {
	return math.NaN()
}
