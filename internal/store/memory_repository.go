package store

import (
	"context"
	"sort"
	"sync"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/spatial"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu       sync.RWMutex
	stations map[string]airquality.Station
	readings []airquality.Reading
	grids    map[string]*GridRecord
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		stations: make(map[string]airquality.Station),
		grids:    make(map[string]*GridRecord),
	}
}

// ListStations returns the stations of a city sorted by code.
func (r *InMemoryRepository) ListStations(_ context.Context, city string) ([]airquality.Station, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []airquality.Station
	for _, s := range r.stations {
		if city == "" || s.City == city {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// UpsertStations creates or replaces stations by code.
func (r *InMemoryRepository) UpsertStations(_ context.Context, stations []airquality.Station) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range stations {
		r.stations[s.Code] = s
	}
	return nil
}

// ListReadings returns the readings matching q ordered by timestamp.
func (r *InMemoryRepository) ListReadings(_ context.Context, q ReadingQuery) ([]airquality.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []airquality.Reading
	for _, reading := range r.readings {
		if q.Matches(reading, r.stations[reading.StationCode]) {
			out = append(out, reading)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// InsertReadings appends readings.
func (r *InMemoryRepository) InsertReadings(_ context.Context, readings []airquality.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.readings = append(r.readings, readings...)
	return nil
}

// SaveGrid stores a copy of the grid run.
func (r *InMemoryRepository) SaveGrid(_ context.Context, grid *GridRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.grids[grid.RunID] = copyGrid(grid)
	return nil
}

// GetGrid returns a copy of a stored grid run.
func (r *InMemoryRepository) GetGrid(_ context.Context, runID string) (*GridRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.grids[runID]
	if !ok {
		return nil, ErrGridNotFound
	}
	return copyGrid(g), nil
}

// Ping always succeeds.
func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

func copyGrid(g *GridRecord) *GridRecord {
	cpy := *g
	cpy.Qualified = append([]string(nil), g.Qualified...)
	cpy.Cells = append([]spatial.Cell(nil), g.Cells...)
	return &cpy
}
