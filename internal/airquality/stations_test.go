package airquality_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqfield/aqfield/internal/airquality"
)

// mockSource is a station source that returns configurable data.
type mockSource struct {
	mu         sync.Mutex
	stations   []airquality.Station
	err        error
	fetchCount atomic.Int32
}

func (m *mockSource) ListStations(_ context.Context, _ string) ([]airquality.Station, error) {
	m.fetchCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.stations, nil
}

func (m *mockSource) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func testStations() []airquality.Station {
	return []airquality.Station{
		{Code: "UIZ", Name: "UAM Iztapalapa", City: "cdmx", Lat: 19.3608, Lon: -99.0739},
		{Code: "MER", Name: "Merced", City: "cdmx", Lat: 19.4246, Lon: -99.1196},
		{Code: "PED", Name: "Pedregal", City: "cdmx", Lat: 19.3251, Lon: -99.2041},
	}
}

func newTestCache(source airquality.StationSource, ttl, stale time.Duration) *airquality.StationCache {
	return airquality.NewStationCache(airquality.StationCacheConfig{
		Source:          source,
		Logger:          zerolog.New(io.Discard),
		TTL:             ttl,
		StaleIfErrorTTL: stale,
	})
}

func TestStationCache_Stations(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, time.Minute, time.Hour)

	stations, err := cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)
	require.Len(t, stations, 3)

	// Sorted by code.
	assert.Equal(t, "MER", stations[0].Code)
	assert.Equal(t, "PED", stations[1].Code)
	assert.Equal(t, "UIZ", stations[2].Code)
}

func TestStationCache_UsesCache(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, time.Minute, time.Hour)

	for i := 0; i < 5; i++ {
		_, err := cache.Stations(context.Background(), "cdmx")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), source.fetchCount.Load())
}

func TestStationCache_PerCity(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, time.Minute, time.Hour)

	_, err := cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)
	_, err = cache.Stations(context.Background(), "guadalajara")
	require.NoError(t, err)

	assert.Equal(t, int32(2), source.fetchCount.Load())
}

func TestStationCache_RefreshesAfterTTL(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, 50*time.Millisecond, time.Hour)

	_, err := cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)

	assert.Equal(t, int32(2), source.fetchCount.Load())
}

func TestStationCache_StaleIfError(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, 50*time.Millisecond, time.Hour)

	_, err := cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	source.setErr(errors.New("registry down"))

	stations, err := cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)
	assert.Len(t, stations, 3)
}

func TestStationCache_StaleExpired(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, 20*time.Millisecond, 40*time.Millisecond)

	_, err := cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	source.setErr(errors.New("registry down"))

	_, err = cache.Stations(context.Background(), "cdmx")
	require.Error(t, err)
	assert.ErrorIs(t, err, airquality.ErrStationsUnavailable)
}

func TestStationCache_ErrorWithoutCache(t *testing.T) {
	source := &mockSource{err: errors.New("registry down")}
	cache := newTestCache(source, time.Minute, time.Hour)

	_, err := cache.Stations(context.Background(), "cdmx")
	require.Error(t, err)
	assert.ErrorIs(t, err, airquality.ErrStationsUnavailable)
}

func TestStationCache_StatusAndInvalidate(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, time.Minute, time.Hour)

	assert.False(t, cache.Status("cdmx").HasData)

	_, err := cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)

	status := cache.Status("cdmx")
	assert.True(t, status.HasData)
	assert.False(t, status.IsExpired)
	assert.Equal(t, 3, status.StationCount)

	cache.Invalidate()
	assert.False(t, cache.Status("cdmx").HasData)

	_, err = cache.Stations(context.Background(), "cdmx")
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.fetchCount.Load())
}

func TestStationCache_ConcurrentAccess(t *testing.T) {
	source := &mockSource{stations: testStations()}
	cache := newTestCache(source, time.Minute, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Stations(context.Background(), "cdmx")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.fetchCount.Load())
}
