// Package store persists stations, readings and computed grids.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/spatial"
)

// Store errors.
var (
	ErrGridNotFound     = errors.New("grid not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ReadingQuery selects readings of one pollutant.
type ReadingQuery struct {
	// City restricts readings to stations of the city. Empty means all cities.
	City string

	Pollutant airquality.Pollutant

	// From is inclusive, To is exclusive. Zero bounds are open.
	From time.Time
	To   time.Time

	// Stations restricts readings to the given station codes when not empty.
	Stations []string
}

// Matches reports whether a reading from station matches the query.
func (q ReadingQuery) Matches(r airquality.Reading, station airquality.Station) bool {
	if r.Pollutant != q.Pollutant {
		return false
	}
	if q.City != "" && station.City != q.City {
		return false
	}
	if !q.From.IsZero() && r.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !r.Timestamp.Before(q.To) {
		return false
	}
	if len(q.Stations) == 0 {
		return true
	}
	for _, code := range q.Stations {
		if code == r.StationCode {
			return true
		}
	}
	return false
}

// GridRecord is a persisted interpolation run.
type GridRecord struct {
	RunID      string
	City       string
	Pollutant  airquality.Pollutant
	Date       time.Time
	Mode       airquality.ValueMode
	CellSize   float64
	Power      float64
	Metric     spatial.Metric
	Box        spatial.BoundingBox
	Qualified  []string
	OutOfRange int
	ComputedAt time.Time
	Cells      []spatial.Cell
}

// Repository defines the interface for engine data persistence.
type Repository interface {
	// ListStations returns the stations of a city. Empty city lists every station.
	ListStations(ctx context.Context, city string) ([]airquality.Station, error)

	// UpsertStations creates or replaces stations by code.
	UpsertStations(ctx context.Context, stations []airquality.Station) error

	// ListReadings returns the readings matching q ordered by timestamp.
	ListReadings(ctx context.Context, q ReadingQuery) ([]airquality.Reading, error)

	// InsertReadings appends readings.
	InsertReadings(ctx context.Context, readings []airquality.Reading) error

	// SaveGrid stores a grid run. Saving an existing run ID replaces it.
	SaveGrid(ctx context.Context, grid *GridRecord) error

	// GetGrid returns a stored grid run.
	// Returns ErrGridNotFound if the run doesn't exist.
	GetGrid(ctx context.Context, runID string) (*GridRecord, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
