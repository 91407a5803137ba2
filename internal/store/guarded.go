package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/aqfield/aqfield/internal/airquality"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed in half-open state.
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period for clearing internal counts when closed.
	// Default: 0 (disabled)
	Interval time.Duration

	// Timeout is the period of open state before switching to half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// ReadyToTrip determines when to trip the circuit breaker.
	// If nil, uses DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultReadyToTrip trips the circuit breaker when at least 5 requests have been made
// and the failure rate is 50% or higher.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.Requests >= 5 && failureRatio >= 0.5
}

// GuardConfig holds configuration for GuardedRepository.
type GuardConfig struct {
	// Name identifies the circuit breaker in logs and health reports.
	Name string

	// Logger receives circuit state changes.
	Logger zerolog.Logger

	// MaxRetries is the maximum number of retry attempts for reads.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 2 seconds
	MaxInterval time.Duration

	CircuitBreaker CircuitBreakerConfig
}

// DefaultGuardConfig returns the default configuration.
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:            name,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: DefaultReadyToTrip,
		},
	}
}

// Health describes the state of a guarded store.
type Health struct {
	Name          string
	CircuitState  gobreaker.State
	Counts        gobreaker.Counts
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// IsHealthy returns true if the circuit is closed.
func (h Health) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the circuit is half-open.
func (h Health) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// GuardedRepository wraps a Repository with a circuit breaker. Reads are
// retried with exponential backoff; writes are attempted once.
type GuardedRepository struct {
	next    Repository
	breaker *gobreaker.CircuitBreaker[any]
	config  GuardConfig
	logger  zerolog.Logger

	mu            sync.RWMutex
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewGuardedRepository creates a guarded repository around next.
func NewGuardedRepository(next Repository, cfg GuardConfig) *GuardedRepository {
	defaults := DefaultGuardConfig(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.CircuitBreaker.MaxRequests == 0 {
		cfg.CircuitBreaker.MaxRequests = defaults.CircuitBreaker.MaxRequests
	}
	if cfg.CircuitBreaker.Timeout == 0 {
		cfg.CircuitBreaker.Timeout = defaults.CircuitBreaker.Timeout
	}
	if cfg.CircuitBreaker.ReadyToTrip == nil {
		cfg.CircuitBreaker.ReadyToTrip = DefaultReadyToTrip
	}

	g := &GuardedRepository{
		next:   next,
		config: cfg,
		logger: cfg.Logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CircuitBreaker.MaxRequests,
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: cfg.CircuitBreaker.ReadyToTrip,
		IsSuccessful: func(err error) bool {
			// A missing grid is an answer, not a store failure.
			return err == nil || errors.Is(err, ErrGridNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store circuit breaker state changed")
		},
	})
	return g
}

// ListStations implements Repository.
func (g *GuardedRepository) ListStations(ctx context.Context, city string) ([]airquality.Station, error) {
	v, err := g.read(ctx, func() (any, error) { return g.next.ListStations(ctx, city) })
	if err != nil {
		return nil, err
	}
	return v.([]airquality.Station), nil
}

// UpsertStations implements Repository.
func (g *GuardedRepository) UpsertStations(ctx context.Context, stations []airquality.Station) error {
	return g.write(func() error { return g.next.UpsertStations(ctx, stations) })
}

// ListReadings implements Repository.
func (g *GuardedRepository) ListReadings(ctx context.Context, q ReadingQuery) ([]airquality.Reading, error) {
	v, err := g.read(ctx, func() (any, error) { return g.next.ListReadings(ctx, q) })
	if err != nil {
		return nil, err
	}
	return v.([]airquality.Reading), nil
}

// InsertReadings implements Repository.
func (g *GuardedRepository) InsertReadings(ctx context.Context, readings []airquality.Reading) error {
	return g.write(func() error { return g.next.InsertReadings(ctx, readings) })
}

// SaveGrid implements Repository.
func (g *GuardedRepository) SaveGrid(ctx context.Context, grid *GridRecord) error {
	return g.write(func() error { return g.next.SaveGrid(ctx, grid) })
}

// GetGrid implements Repository.
func (g *GuardedRepository) GetGrid(ctx context.Context, runID string) (*GridRecord, error) {
	v, err := g.read(ctx, func() (any, error) { return g.next.GetGrid(ctx, runID) })
	if err != nil {
		return nil, err
	}
	return v.(*GridRecord), nil
}

// Ping checks the wrapped store without retries.
func (g *GuardedRepository) Ping(ctx context.Context) error {
	return g.write(func() error { return g.next.Ping(ctx) })
}

// Health returns the current state of the guard.
func (g *GuardedRepository) Health() Health {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return Health{
		Name:          g.config.Name,
		CircuitState:  g.breaker.State(),
		Counts:        g.breaker.Counts(),
		LastSuccessAt: g.lastSuccessAt,
		LastFailureAt: g.lastFailureAt,
		LastError:     g.lastError,
	}
}

func (g *GuardedRepository) read(ctx context.Context, fn func() (any, error)) (any, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.config.InitialInterval
	bo.MaxInterval = g.config.MaxInterval
	bo.MaxElapsedTime = 0 // Unlimited, we control retries via WithMaxRetries

	var result any
	operation := func() error {
		v, err := g.execute(fn)
		if err != nil {
			if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrGridNotFound) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, g.config.MaxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *GuardedRepository) write(fn func() error) error {
	_, err := g.execute(func() (any, error) { return nil, fn() })
	return err
}

func (g *GuardedRepository) execute(fn func() (any, error)) (any, error) {
	v, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s circuit is %s", ErrStoreUnavailable, g.config.Name, g.breaker.State())
	}
	g.record(err)
	return v, err
}

func (g *GuardedRepository) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if err == nil || errors.Is(err, ErrGridNotFound) {
		g.lastSuccessAt = &now
		return
	}
	g.lastFailureAt = &now
	g.lastError = err.Error()
}
