package airquality

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrStationsUnavailable is returned when the station registry cannot be read
// and no usable cached copy exists.
var ErrStationsUnavailable = errors.New("station registry unavailable")

// StationSource provides the station registry.
type StationSource interface {
	ListStations(ctx context.Context, city string) ([]Station, error)
}

// StationCacheConfig holds configuration for the station cache.
type StationCacheConfig struct {
	// Source is the station registry.
	Source StationSource

	// Logger for cache operations.
	Logger zerolog.Logger

	// TTL is how long a city's stations are cached (default: 1 hour).
	TTL time.Duration

	// StaleIfErrorTTL allows serving stale stations on source errors (default: 24 hours).
	StaleIfErrorTTL time.Duration
}

type cityEntry struct {
	stations  []Station
	fetchedAt time.Time
	expiresAt time.Time
}

// StationCache caches the station registry per city.
type StationCache struct {
	source          StationSource
	logger          zerolog.Logger
	ttl             time.Duration
	staleIfErrorTTL time.Duration

	mu      sync.RWMutex
	entries map[string]*cityEntry
}

// NewStationCache creates a new station cache.
func NewStationCache(cfg StationCacheConfig) *StationCache {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 24 * time.Hour
	}

	return &StationCache{
		source:          cfg.Source,
		logger:          cfg.Logger,
		ttl:             ttl,
		staleIfErrorTTL: staleIfErrorTTL,
		entries:         make(map[string]*cityEntry),
	}
}

// Stations returns the stations of a city sorted by code.
// It uses the cached copy while it has not expired.
func (c *StationCache) Stations(ctx context.Context, city string) ([]Station, error) {
	c.mu.RLock()
	entry, ok := c.entries[city]
	if ok && time.Now().Before(entry.expiresAt) {
		stations := entry.stations
		c.mu.RUnlock()
		return stations, nil
	}
	c.mu.RUnlock()

	return c.refresh(ctx, city)
}

// Invalidate drops the cached stations of every city.
func (c *StationCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cityEntry)
}

// CacheStatus represents the cache state for a city.
type CacheStatus struct {
	HasData      bool
	FetchedAt    time.Time
	ExpiresAt    time.Time
	IsExpired    bool
	StationCount int
}

// Status returns the cache state for a city.
func (c *StationCache) Status(city string) CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[city]
	if !ok {
		return CacheStatus{}
	}
	return CacheStatus{
		HasData:      true,
		FetchedAt:    entry.fetchedAt,
		ExpiresAt:    entry.expiresAt,
		IsExpired:    time.Now().After(entry.expiresAt),
		StationCount: len(entry.stations),
	}
}

func (c *StationCache) refresh(ctx context.Context, city string) ([]Station, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	entry, ok := c.entries[city]
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.stations, nil
	}

	c.logger.Debug().Str("city", city).Msg("refreshing station registry")

	stations, err := c.source.ListStations(ctx, city)
	if err != nil {
		c.logger.Error().Err(err).Str("city", city).Msg("failed to list stations")

		if ok && time.Now().Before(entry.fetchedAt.Add(c.staleIfErrorTTL)) {
			c.logger.Warn().
				Str("city", city).
				Time("fetched_at", entry.fetchedAt).
				Msg("serving stale stations due to registry error")
			return entry.stations, nil
		}
		return nil, errors.Join(ErrStationsUnavailable, err)
	}

	sorted := make([]Station, len(stations))
	copy(sorted, stations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	now := time.Now()
	c.entries[city] = &cityEntry{
		stations:  sorted,
		fetchedAt: now,
		expiresAt: now.Add(c.ttl),
	}

	c.logger.Info().
		Str("city", city).
		Int("stations", len(sorted)).
		Msg("station registry refreshed")

	return sorted, nil
}
