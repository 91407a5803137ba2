package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the instruments of the concentration engine.
type EngineMetrics struct {
	runDuration   metric.Float64Histogram
	runTotal      metric.Int64Counter
	cellsComputed metric.Int64Counter
	cellsAbsent   metric.Int64Counter
	outOfRange    metric.Int64Counter
}

// NewEngineMetrics creates the engine instruments on meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	runDuration, err := meter.Float64Histogram(
		"engine.run.duration",
		metric.WithDescription("Duration of grid runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runTotal, err := meter.Int64Counter(
		"engine.run.total",
		metric.WithDescription("Total number of grid runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	cellsComputed, err := meter.Int64Counter(
		"engine.grid.cells",
		metric.WithDescription("Number of grid cells evaluated"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, err
	}

	cellsAbsent, err := meter.Int64Counter(
		"engine.grid.cells_absent",
		metric.WithDescription("Number of grid cells left without a value"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, err
	}

	outOfRange, err := meter.Int64Counter(
		"engine.conversion.out_of_range",
		metric.WithDescription("Number of AQI values outside every breakpoint segment"),
		metric.WithUnit("{value}"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		runDuration:   runDuration,
		runTotal:      runTotal,
		cellsComputed: cellsComputed,
		cellsAbsent:   cellsAbsent,
		outOfRange:    outOfRange,
	}, nil
}

// RunStats summarises a grid run for RecordRun.
type RunStats struct {
	City        string
	Pollutant   string
	Duration    time.Duration
	Cells       int
	AbsentCells int
	OutOfRange  int
	Err         error
}

// RecordRun records the metrics of one grid run. A nil receiver is a no-op.
func (m *EngineMetrics) RecordRun(ctx context.Context, s RunStats) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("engine.city", s.City),
		attribute.String("engine.pollutant", s.Pollutant),
	}
	if s.Err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	opt := metric.WithAttributes(attrs...)

	m.runDuration.Record(ctx, s.Duration.Seconds(), opt)
	m.runTotal.Add(ctx, 1, opt)
	m.cellsComputed.Add(ctx, int64(s.Cells), opt)
	m.cellsAbsent.Add(ctx, int64(s.AbsentCells), opt)
	m.outOfRange.Add(ctx, int64(s.OutOfRange), opt)
}
