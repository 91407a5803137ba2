package spatial

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Metric selects how the distance between a cell and a point is measured.
type Metric string

const (
	// MetricPlanar is the Euclidean distance in degrees.
	MetricPlanar Metric = "planar"
	// MetricHaversine is the great circle distance in meters.
	MetricHaversine Metric = "haversine"
)

// ParseMetric converts a name to a Metric. An empty name selects MetricPlanar.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case "", MetricPlanar:
		return MetricPlanar, nil
	case MetricHaversine:
		return MetricHaversine, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", name)
	}
}

func (m Metric) distance(a, b orb.Point) float64 {
	if m == MetricHaversine {
		return geo.DistanceHaversine(a, b)
	}
	return planar.Distance(a, b)
}

// Config holds configuration for inverse distance weighting.
type Config struct {
	// Power is the exponent applied to distances. Default: 2.
	Power float64

	// Epsilon is the distance, in the metric's unit, within which a cell takes
	// the value of the nearest point instead of a weighted mean. Default: 0,
	// which snaps only exact coincidences.
	Epsilon float64

	// Metric is the distance metric. Default: MetricPlanar.
	Metric Metric

	// Workers is the number of goroutines evaluating cells. Default: GOMAXPROCS.
	Workers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Power:   2,
		Epsilon: 0,
		Metric:  MetricPlanar,
		Workers: runtime.GOMAXPROCS(0),
	}
}

// Interpolator estimates values on a lattice from scattered points.
// It holds no mutable state and is safe for concurrent use.
type Interpolator struct {
	config Config
}

// NewInterpolator creates an Interpolator, filling unset fields from DefaultConfig.
func NewInterpolator(config Config) *Interpolator {
	if config.Power <= 0 {
		config.Power = DefaultConfig().Power
	}
	if config.Epsilon < 0 || math.IsNaN(config.Epsilon) {
		config.Epsilon = 0
	}
	if config.Metric == "" {
		config.Metric = DefaultConfig().Metric
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	return &Interpolator{config: config}
}

// Config returns the effective configuration.
func (i *Interpolator) Config() Config {
	return i.config
}

// Interpolate evaluates every lattice cell of box at cellSize.
//
// Points without a finite value are ignored. With no usable point the grid is
// returned with every cell absent.
func (i *Interpolator) Interpolate(points []Point, box BoundingBox, cellSize float64) (*Grid, error) {
	cells, err := Lattice(box, cellSize)
	if err != nil {
		return nil, err
	}

	grid := &Grid{CellSize: cellSize, Box: box, Cells: cells}

	known := usable(points)
	if len(known) == 0 {
		return grid, nil
	}

	workers := min(i.config.Workers, len(cells))
	chunk := (len(cells) + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < len(cells); start += chunk {
		end := min(start+chunk, len(cells))
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for c := start; c < end; c++ {
				cells[c].Value = i.estimate(known, orb.Point{cells[c].Lon, cells[c].Lat})
			}
		}(start, end)
	}
	wg.Wait()

	return grid, nil
}

// InterpolateAt evaluates a single location. It returns NaN when no point has
// a finite value.
func (i *Interpolator) InterpolateAt(points []Point, lat, lon float64) float64 {
	known := usable(points)
	if len(known) == 0 {
		return math.NaN()
	}
	return i.estimate(known, orb.Point{lon, lat})
}

// estimate computes the weighted mean of points at cell, snapping to the
// nearest point within Epsilon.
func (i *Interpolator) estimate(points []Point, cell orb.Point) float64 {
	var weighted, total float64
	snap := -1
	snapDistance := math.Inf(1)

	for idx, p := range points {
		d := i.config.Metric.distance(cell, p.orb())
		if d <= i.config.Epsilon {
			if d < snapDistance {
				snap, snapDistance = idx, d
			}
			continue
		}
		w := 1 / math.Pow(d, i.config.Power)
		weighted += p.Value * w
		total += w
	}

	if snap >= 0 {
		return points[snap].Value
	}
	return weighted / total
}

func usable(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if isFinite(p.Value) && isFinite(p.Lat) && isFinite(p.Lon) {
			out = append(out, p)
		}
	}
	return out
}
