// Package analysis runs the concentration pipeline: daily aggregation,
// coverage filtering, smoothing, AQI conversion and spatial interpolation.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/series"
	"github.com/aqfield/aqfield/internal/spatial"
)

// ErrInvalidRequest is returned for requests that cannot be run as given.
var ErrInvalidRequest = errors.New("invalid request")

// Request limits.
const (
	MaxSmoothingWindow = 366

	// MaxSpanDays bounds the days of readings one request may load.
	MaxSpanDays = 3660
)

// Request describes one grid computation.
type Request struct {
	City      string
	Pollutant airquality.Pollutant
	Date      time.Time

	// Mode tells how stored reading values are interpreted (default: concentration).
	Mode airquality.ValueMode

	// Agg reduces sub-daily readings (default: the service default).
	Agg series.AggFunc

	// CoverageThreshold is the minimum pre-smoothing coverage ratio a station
	// needs to contribute. Nil selects the service default; 0 keeps every
	// station.
	CoverageThreshold *float64

	// SmoothingWindow is the trailing window in days (default: the service default).
	SmoothingWindow int

	// Window selects the dates coverage is computed over. Nil uses the
	// smoothing lookback ending at Date.
	Window series.Window

	// CellSize is the lattice step in degrees (default: the service default).
	CellSize float64

	// Smooth interpolates the trailing average instead of the daily value.
	Smooth bool

	// MaskOutliers drops concentrations above the pollutant's outlier ceiling.
	MaskOutliers bool

	// Clip keeps only cells inside the boundary when set.
	Clip orb.Geometry
}

// Validate checks the request fields that have no default.
func (r Request) Validate() error {
	if r.City == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidRequest)
	}
	if !r.Pollutant.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, airquality.ErrUnknownPollutant, r.Pollutant)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	if _, err := airquality.ParseValueMode(string(r.Mode)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.Agg != "" {
		if _, err := series.ParseAggFunc(string(r.Agg)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if t := r.CoverageThreshold; t != nil && (*t < 0 || *t > 1 || math.IsNaN(*t)) {
		return fmt.Errorf("%w: coverage threshold must be within [0, 1]", ErrInvalidRequest)
	}
	if r.SmoothingWindow < 0 || r.SmoothingWindow > MaxSmoothingWindow {
		return fmt.Errorf("%w: smoothing window must be within 0..%d days", ErrInvalidRequest, MaxSmoothingWindow)
	}
	if from, to := readingSpan(r); to.Sub(from) >= MaxSpanDays*24*time.Hour {
		return fmt.Errorf("%w: request spans more than %d days", ErrInvalidRequest, MaxSpanDays)
	}
	if r.CellSize < 0 || math.IsNaN(r.CellSize) || math.IsInf(r.CellSize, 0) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, spatial.ErrInvalidCellSize)
	}
	return nil
}

// Result is the outcome of a grid computation.
type Result struct {
	RunID   string
	Request Request

	// Coverage holds the statistics of every station of the city, by code.
	Coverage []series.CoverageStat

	// Qualified are the stations that passed the coverage threshold.
	Qualified []string

	// Points are the station values interpolated for Date.
	Points []spatial.Point

	// Grid is empty when no station qualified.
	Grid *spatial.Grid

	// Power and Metric are the interpolation settings the grid was built with.
	Power  float64
	Metric spatial.Metric

	// OutOfRange counts AQI values that had no breakpoint segment and
	// were converted to 0.
	OutOfRange int

	ComputedAt time.Time
	Duration   time.Duration
}

// CoverageReport is the coverage of every station of a city.
type CoverageReport struct {
	City      string
	Pollutant airquality.Pollutant
	Threshold float64
	Stats     []series.CoverageStat
	Qualified []string
}

// ConversionResult is an AQI value converted to a concentration.
type ConversionResult struct {
	Pollutant     airquality.Pollutant
	AQI           float64
	Concentration float64
	Unit          string
	InRange       bool

	// IMECA is nil for pollutants without an IMECA formula.
	IMECA    *float64
	Category airquality.Category
}

// readingSpan returns the first and last day of readings a request needs.
func readingSpan(req Request) (time.Time, time.Time) {
	to := series.Day(req.Date)
	from := to.AddDate(0, 0, -(req.SmoothingWindow - 1))

	switch w := req.Window.(type) {
	case series.RangeWindow:
		if !w.From.IsZero() && series.Day(w.From).Before(from) {
			from = series.Day(w.From)
		}
		if !w.To.IsZero() && series.Day(w.To).After(to) {
			to = series.Day(w.To)
		}
	case series.MonthWindow:
		if w.FromYear != 0 {
			if start := time.Date(w.FromYear, time.January, 1, 0, 0, 0, 0, time.UTC); start.Before(from) {
				from = start
			}
		}
		if w.ToYear != 0 {
			if end := time.Date(w.ToYear, time.December, 31, 0, 0, 0, 0, time.UTC); end.After(to) {
				to = end
			}
		}
	}
	return from, to
}
