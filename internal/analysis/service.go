package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/series"
	"github.com/aqfield/aqfield/internal/spatial"
	"github.com/aqfield/aqfield/internal/store"
	"github.com/aqfield/aqfield/internal/telemetry"
)

const tracerName = "github.com/aqfield/aqfield/internal/analysis"

// Defaults are applied to request fields left at their zero value.
type Defaults struct {
	Agg               series.AggFunc
	CoverageThreshold float64
	SmoothingWindow   int
	CellSize          float64
}

// DefaultDefaults returns the engine defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Agg:               series.AggMedian,
		CoverageThreshold: series.DefaultCoverageThreshold,
		SmoothingWindow:   series.DefaultRollingWindow,
		CellSize:          0.01,
	}
}

// ServiceConfig holds configuration for the analysis service.
type ServiceConfig struct {
	Store store.Repository

	// Stations caches the station registry. If nil, one is built over Store.
	Stations *airquality.StationCache

	// Converter converts AQI values. If nil, the default tables are used.
	Converter *airquality.Converter

	// Interpolator builds grids. If nil, spatial.DefaultConfig is used.
	Interpolator *spatial.Interpolator

	Defaults Defaults
	Logger   zerolog.Logger
	Tracer   trace.Tracer
	Metrics  *telemetry.EngineMetrics
}

// Service runs grid computations.
type Service struct {
	store        store.Repository
	stations     *airquality.StationCache
	converter    *airquality.Converter
	interpolator *spatial.Interpolator
	defaults     Defaults
	logger       zerolog.Logger
	tracer       trace.Tracer
	metrics      *telemetry.EngineMetrics
	now          func() time.Time
}

// NewService creates a new analysis service.
func NewService(cfg ServiceConfig) *Service {
	defaults := DefaultDefaults()
	if cfg.Defaults.Agg != "" {
		defaults.Agg = cfg.Defaults.Agg
	}
	if cfg.Defaults.CoverageThreshold > 0 {
		defaults.CoverageThreshold = cfg.Defaults.CoverageThreshold
	}
	if cfg.Defaults.SmoothingWindow > 0 {
		defaults.SmoothingWindow = cfg.Defaults.SmoothingWindow
	}
	if cfg.Defaults.CellSize > 0 {
		defaults.CellSize = cfg.Defaults.CellSize
	}

	stations := cfg.Stations
	if stations == nil {
		stations = airquality.NewStationCache(airquality.StationCacheConfig{
			Source: cfg.Store,
			Logger: cfg.Logger,
		})
	}

	converter := cfg.Converter
	if converter == nil {
		converter = airquality.NewConverter(nil)
	}

	interpolator := cfg.Interpolator
	if interpolator == nil {
		interpolator = spatial.NewInterpolator(spatial.DefaultConfig())
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Service{
		store:        cfg.Store,
		stations:     stations,
		converter:    converter,
		interpolator: interpolator,
		defaults:     defaults,
		logger:       cfg.Logger,
		tracer:       tracer,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
}

// Run computes and stores the concentration grid of one city, pollutant and date.
//
// Stations below the coverage threshold are left out. When no station
// qualifies the result carries an empty grid rather than an error.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	start := s.now()

	req = s.withDefaults(req)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "analysis.Run", trace.WithAttributes(
		attribute.String("engine.city", req.City),
		attribute.String("engine.pollutant", string(req.Pollutant)),
		attribute.String("engine.date", series.Day(req.Date).Format(time.DateOnly)),
	))
	defer span.End()

	result, err := s.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordRun(ctx, telemetry.RunStats{
			City:      req.City,
			Pollutant: string(req.Pollutant),
			Duration:  time.Since(start),
			Err:       err,
		})
		return nil, err
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("engine.run_id", result.RunID),
		attribute.Int("engine.qualified", len(result.Qualified)),
		attribute.Int("engine.cells", len(result.Grid.Cells)),
	)
	s.metrics.RecordRun(ctx, telemetry.RunStats{
		City:        req.City,
		Pollutant:   string(req.Pollutant),
		Duration:    result.Duration,
		Cells:       len(result.Grid.Cells),
		AbsentCells: result.Grid.Absent(),
		OutOfRange:  result.OutOfRange,
	})

	s.logger.Info().
		Str("run_id", result.RunID).
		Str("city", req.City).
		Str("pollutant", string(req.Pollutant)).
		Int("qualified", len(result.Qualified)).
		Int("points", len(result.Points)).
		Int("cells", len(result.Grid.Cells)).
		Dur("duration", result.Duration).
		Msg("grid computed")

	return result, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Result, error) {
	day := series.Day(req.Date)
	from, to := readingSpan(req)

	stations, err := s.stations.Stations(ctx, req.City)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	matrix, err := s.dailyMatrix(ctx, req, stations, from, to)
	if err != nil {
		return nil, err
	}

	window := req.Window
	if window == nil {
		window = series.RangeWindow{From: from, To: to}
	}
	stats := series.Coverage(matrix, window, req.SmoothingWindow)
	qualified := series.Filter(stats, *req.CoverageThreshold)

	s.logger.Debug().
		Str("city", req.City).
		Int("stations", len(stations)).
		Int("days", matrix.Len()).
		Int("qualified", len(qualified)).
		Msg("coverage computed")

	interp := s.interpolator.Config()
	result := &Result{
		RunID:      uuid.New().String(),
		Power:      interp.Power,
		Metric:     interp.Metric,
		Request:    req,
		Coverage:   series.SortedStats(stats),
		Qualified:  qualified,
		ComputedAt: s.now().UTC(),
	}

	if len(qualified) == 0 {
		s.logger.Warn().
			Str("city", req.City).
			Str("pollutant", string(req.Pollutant)).
			Float64("threshold", *req.CoverageThreshold).
			Msg("no station meets the coverage threshold")
		result.Grid = &spatial.Grid{CellSize: req.CellSize}
		return result, s.save(ctx, result)
	}

	matrix = matrix.Select(qualified)
	if req.Smooth {
		matrix = series.RollingAverage(matrix, req.SmoothingWindow)
	}

	values := matrix.Row(day)
	if req.Mode == airquality.ModeAQI {
		values, result.OutOfRange, err = s.convertRow(req.Pollutant, values)
		if err != nil {
			return nil, err
		}
		if result.OutOfRange > 0 {
			s.logger.Warn().
				Str("city", req.City).
				Str("pollutant", string(req.Pollutant)).
				Int("out_of_range", result.OutOfRange).
				Msg("AQI values outside the breakpoint table converted to 0")
		}
	}
	if req.MaskOutliers {
		meta, err := airquality.MetadataFor(req.Pollutant)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if v > meta.OutlierCeiling {
				values[i] = series.Absent()
			}
		}
	}

	byCode := make(map[string]airquality.Station, len(stations))
	for _, st := range stations {
		byCode[st.Code] = st
	}

	var located []spatial.Point
	for i, code := range matrix.Locations() {
		st, ok := byCode[code]
		if !ok {
			s.logger.Warn().
				Str("city", req.City).
				Str("station", code).
				Msg("station missing from registry, skipped")
			continue
		}
		p := spatial.Point{Location: code, Lat: st.Lat, Lon: st.Lon, Value: values[i]}
		located = append(located, p)
		if !series.IsAbsent(p.Value) {
			result.Points = append(result.Points, p)
		}
	}

	box, ok := spatial.BoundsOf(result.Points)
	if !ok {
		// Nobody reported on the day; lay the all-absent grid over the qualified stations.
		for i := range located {
			located[i].Value = 0
		}
		box, _ = spatial.BoundsOf(located)
	}

	_, span := s.tracer.Start(ctx, "analysis.Interpolate", trace.WithAttributes(
		attribute.Int("engine.points", len(result.Points)),
	))
	grid, err := s.interpolator.Interpolate(result.Points, box, req.CellSize)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if req.Clip != nil {
		grid, err = spatial.Clip(grid, req.Clip)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	result.Grid = grid

	return result, s.save(ctx, result)
}

func (s *Service) dailyMatrix(ctx context.Context, req Request, stations []airquality.Station, from, to time.Time) (*series.Matrix, error) {
	codes := make([]string, len(stations))
	for i, st := range stations {
		codes[i] = st.Code
	}

	readings, err := s.store.ListReadings(ctx, store.ReadingQuery{
		City:      req.City,
		Pollutant: req.Pollutant,
		From:      from,
		To:        to.AddDate(0, 0, 1),
		Stations:  codes,
	})
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}

	matrix, err := series.Aggregate(req.Pollutant, readings, series.AggregateConfig{
		Func:      req.Agg,
		From:      from,
		To:        to,
		Locations: codes,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate readings: %w", err)
	}
	matrix.Region = req.City
	return matrix, nil
}

func (s *Service) convertRow(p airquality.Pollutant, values []float64) ([]float64, int, error) {
	conversions, err := s.converter.ConvertAll(p, values)
	if err != nil {
		return nil, 0, err
	}

	out := make([]float64, len(values))
	outOfRange := 0
	for i, c := range conversions {
		switch {
		case series.IsAbsent(values[i]):
			out[i] = series.Absent()
		case !c.InRange:
			outOfRange++
			out[i] = c.Value
		default:
			out[i] = c.Value
		}
	}
	return out, outOfRange, nil
}

func (s *Service) save(ctx context.Context, r *Result) error {
	record := &store.GridRecord{
		RunID:      r.RunID,
		City:       r.Request.City,
		Pollutant:  r.Request.Pollutant,
		Date:       series.Day(r.Request.Date),
		Mode:       r.Request.Mode,
		CellSize:   r.Grid.CellSize,
		Power:      r.Power,
		Metric:     r.Metric,
		Box:        r.Grid.Box,
		Qualified:  r.Qualified,
		OutOfRange: r.OutOfRange,
		ComputedAt: r.ComputedAt,
		Cells:      r.Grid.Cells,
	}
	if err := s.store.SaveGrid(ctx, record); err != nil {
		return fmt.Errorf("save grid: %w", err)
	}
	return nil
}

func (s *Service) withDefaults(req Request) Request {
	if req.Mode == "" {
		req.Mode = airquality.ModeConcentration
	}
	if req.Agg == "" {
		req.Agg = s.defaults.Agg
	}
	if req.CoverageThreshold == nil {
		threshold := s.defaults.CoverageThreshold
		req.CoverageThreshold = &threshold
	}
	if req.SmoothingWindow == 0 {
		req.SmoothingWindow = s.defaults.SmoothingWindow
	}
	if req.CellSize == 0 {
		req.CellSize = s.defaults.CellSize
	}
	return req
}

// CoverageReport computes station coverage for a city without interpolating.
// A nil window covers the last default smoothing window ending today; a nil
// threshold selects the service default.
func (s *Service) CoverageReport(ctx context.Context, city string, pollutant airquality.Pollutant, window series.Window, threshold *float64) (*CoverageReport, error) {
	req := s.withDefaults(Request{
		City:              city,
		Pollutant:         pollutant,
		Date:              s.now(),
		Window:            window,
		CoverageThreshold: threshold,
	})
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "analysis.CoverageReport", trace.WithAttributes(
		attribute.String("engine.city", city),
		attribute.String("engine.pollutant", string(pollutant)),
	))
	defer span.End()

	from, to := readingSpan(req)

	stations, err := s.stations.Stations(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	matrix, err := s.dailyMatrix(ctx, req, stations, from, to)
	if err != nil {
		return nil, err
	}

	if window == nil {
		window = series.RangeWindow{From: from, To: to}
	}
	stats := series.Coverage(matrix, window, req.SmoothingWindow)

	return &CoverageReport{
		City:      city,
		Pollutant: pollutant,
		Threshold: *req.CoverageThreshold,
		Stats:     series.SortedStats(stats),
		Qualified: series.Filter(stats, *req.CoverageThreshold),
	}, nil
}

// Convert converts an AQI value and classifies the concentration on the
// IMECA scale when a formula exists for the pollutant.
func (s *Service) Convert(p airquality.Pollutant, aqi float64) (*ConversionResult, error) {
	meta, err := airquality.MetadataFor(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	conv, err := s.converter.Convert(p, aqi)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	result := &ConversionResult{
		Pollutant:     p,
		AQI:           aqi,
		Concentration: conv.Value,
		Unit:          meta.Unit,
		InRange:       conv.InRange,
		Category:      airquality.CategoryUnknown,
	}
	if conv.InRange {
		if imeca, err := airquality.IMECA(p, conv.Value); err == nil {
			result.IMECA = &imeca
			result.Category = airquality.Classify(imeca)
		}
	}
	return result, nil
}

// GetGrid returns a stored grid run.
func (s *Service) GetGrid(ctx context.Context, runID string) (*store.GridRecord, error) {
	return s.store.GetGrid(ctx, runID)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
