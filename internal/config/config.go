// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/database"
	"github.com/aqfield/aqfield/internal/series"
	"github.com/aqfield/aqfield/internal/spatial"
	"github.com/aqfield/aqfield/internal/telemetry"
)

// ErrInvalidConfig is returned when an environment variable holds an unusable value.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the configuration shared by the api and worker binaries.
type Config struct {
	App       AppConfig
	Database  database.Config
	Telemetry telemetry.Config
	PubSub    PubSubConfig
	Engine    EngineConfig
	Worker    WorkerConfig
}

// AppConfig holds process level settings.
type AppConfig struct {
	Port string
	Env  string

	// UseMemoryStore runs against an in-memory store instead of PostgreSQL.
	UseMemoryStore bool

	// StationCacheTTL is how long the station registry is cached per city.
	StationCacheTTL time.Duration
}

// PubSubConfig holds the worker subscription settings.
type PubSubConfig struct {
	ProjectID      string
	Subscription   string
	MaxOutstanding int
}

// EngineConfig holds the defaults applied to grid requests.
type EngineConfig struct {
	CellSize          float64
	Power             float64
	Epsilon           float64
	Metric            spatial.Metric
	CoverageThreshold float64
	SmoothingWindow   int
	Aggregation       series.AggFunc
	Workers           int
}

// WorkerConfig holds batch job settings.
type WorkerConfig struct {
	Concurrency int
	Timeout     time.Duration

	// Targets is parsed from WORKER_TARGETS, e.g. "cdmx:O3,PM10;gdl:NO2".
	Targets []Target
}

// Target is a city and the pollutants computed for it.
type Target struct {
	City       string
	Pollutants []airquality.Pollutant
}

// Load reads the configuration. A .env file in the working directory is
// loaded first when present; real environment variables take precedence.
func Load(serviceName, version string) (*Config, error) {
	_ = godotenv.Load()

	l := &loader{}

	cfg := &Config{
		App: AppConfig{
			Port:            getEnv("APP_PORT", "8080"),
			Env:             getEnv("APP_ENV", "development"),
			UseMemoryStore:  l.bool("APP_MEMORY_STORE", false),
			StationCacheTTL: l.duration("APP_STATION_CACHE_TTL", time.Hour),
		},
		Database: database.Config{
			Host:                 getEnv("DB_HOST", "localhost"),
			Port:                 l.int("DB_PORT", 5432),
			User:                 getEnv("DB_USER", "aqfield"),
			Password:             getEnv("DB_PASSWORD", "localdev"),
			Database:             getEnv("DB_NAME", "aqfield"),
			SSLMode:              getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:         l.int("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:         l.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:      l.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectRetries:       uint64(l.int("DB_CONNECT_RETRIES", 5)), //nolint:gosec // validated below
			ConnectRetryInterval: l.duration("DB_CONNECT_RETRY_INTERVAL", 500*time.Millisecond),
		},
		Telemetry: telemetry.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    getEnv("APP_ENV", "development"),
			InstanceID:     getEnv("OTEL_SERVICE_INSTANCE_ID", getEnv("HOSTNAME", "")),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Enabled:        l.bool("OTEL_ENABLED", false),
			SampleRatio:    l.float("OTEL_SAMPLE_RATIO", 1),
			MetricInterval: l.duration("OTEL_METRIC_INTERVAL", 15*time.Second),
		},
		PubSub: PubSubConfig{
			ProjectID:      getEnv("PUBSUB_PROJECT_ID", ""),
			Subscription:   getEnv("PUBSUB_SUBSCRIPTION", "grid-jobs"),
			MaxOutstanding: l.int("PUBSUB_MAX_OUTSTANDING", 10),
		},
		Engine: EngineConfig{
			CellSize:          l.float("ENGINE_CELL_SIZE", 0.01),
			Power:             l.float("ENGINE_POWER", 2),
			Epsilon:           l.float("ENGINE_EPSILON", 0),
			Metric:            spatial.Metric(getEnv("ENGINE_METRIC", string(spatial.MetricPlanar))),
			CoverageThreshold: l.float("ENGINE_COVERAGE_THRESHOLD", series.DefaultCoverageThreshold),
			SmoothingWindow:   l.int("ENGINE_SMOOTHING_WINDOW", series.DefaultRollingWindow),
			Aggregation:       series.AggFunc(getEnv("ENGINE_AGGREGATION", string(series.AggMedian))),
			Workers:           l.int("ENGINE_WORKERS", 0),
		},
		Worker: WorkerConfig{
			Concurrency: l.int("WORKER_CONCURRENCY", 3),
			Timeout:     l.duration("WORKER_TIMEOUT", 2*time.Minute),
		},
	}

	targets, err := ParseTargets(getEnv("WORKER_TARGETS", ""))
	if err != nil {
		l.errs = append(l.errs, err)
	}
	cfg.Worker.Targets = targets

	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that parsing alone cannot catch.
func (c *Config) Validate() error {
	var errs []error
	if !(c.Engine.CellSize > 0) {
		errs = append(errs, fmt.Errorf("%w: ENGINE_CELL_SIZE must be positive", ErrInvalidConfig))
	}
	if !(c.Engine.Power > 0) {
		errs = append(errs, fmt.Errorf("%w: ENGINE_POWER must be positive", ErrInvalidConfig))
	}
	if c.Engine.Epsilon < 0 {
		errs = append(errs, fmt.Errorf("%w: ENGINE_EPSILON must not be negative", ErrInvalidConfig))
	}
	if _, err := spatial.ParseMetric(string(c.Engine.Metric)); err != nil {
		errs = append(errs, fmt.Errorf("%w: ENGINE_METRIC: %w", ErrInvalidConfig, err))
	}
	if _, err := series.ParseAggFunc(string(c.Engine.Aggregation)); err != nil {
		errs = append(errs, fmt.Errorf("%w: ENGINE_AGGREGATION: %w", ErrInvalidConfig, err))
	}
	// Zero reads as unset in analysis.Defaults; requests pass 0 themselves.
	if c.Engine.CoverageThreshold <= 0 || c.Engine.CoverageThreshold > 1 {
		errs = append(errs, fmt.Errorf("%w: ENGINE_COVERAGE_THRESHOLD must be within (0, 1]", ErrInvalidConfig))
	}
	if c.Engine.SmoothingWindow < 0 {
		errs = append(errs, fmt.Errorf("%w: ENGINE_SMOOTHING_WINDOW must not be negative", ErrInvalidConfig))
	}
	if c.Database.MaxOpenConns <= 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("%w: DB connection limits must be positive", ErrInvalidConfig))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("%w: WORKER_CONCURRENCY must be positive", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// ParseTargets parses "city:POL,POL;city:POL". Empty input yields no targets.
func ParseTargets(raw string) ([]Target, error) {
	var targets []Target
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		city, pollutants, ok := strings.Cut(part, ":")
		city = strings.TrimSpace(city)
		if !ok || city == "" {
			return nil, fmt.Errorf("%w: target %q must look like city:POLLUTANT,...", ErrInvalidConfig, part)
		}

		target := Target{City: city}
		for _, code := range strings.Split(pollutants, ",") {
			if strings.TrimSpace(code) == "" {
				continue
			}
			p, err := airquality.ParsePollutant(code)
			if err != nil {
				return nil, fmt.Errorf("%w: target %q: %w", ErrInvalidConfig, city, err)
			}
			target.Pollutants = append(target.Pollutants, p)
		}
		if len(target.Pollutants) == 0 {
			return nil, fmt.Errorf("%w: target %q has no pollutants", ErrInvalidConfig, city)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loader collects parse errors so every bad variable is reported at once.
type loader struct {
	errs []error
}

func (l *loader) int(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err))
		return defaultValue
	}
	return v
}

func (l *loader) float(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err))
		return defaultValue
	}
	return v
}

func (l *loader) bool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err))
		return defaultValue
	}
	return v
}

func (l *loader) duration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err))
		return defaultValue
	}
	return v
}
