package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/series"
)

// Runner computes and stores one grid.
type Runner interface {
	Run(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// GridJob computes the grids of every configured target.
type GridJob struct {
	config GridJobConfig
	runner Runner
	logger zerolog.Logger
	now    func() time.Time

	metrics *JobMetrics
}

// GridJobOptions holds the dependencies of a GridJob.
type GridJobOptions struct {
	Config GridJobConfig
	Runner Runner
	Logger zerolog.Logger
}

// NewGridJob creates a new grid job.
func NewGridJob(opts GridJobOptions) *GridJob {
	cfg := opts.Config
	defaults := DefaultGridJobConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	return &GridJob{
		config:  cfg,
		runner:  opts.Runner,
		logger:  opts.Logger,
		now:     time.Now,
		metrics: &JobMetrics{},
	}
}

// Config returns the effective job configuration.
func (j *GridJob) Config() GridJobConfig {
	return j.config
}

// JobResult summarises one run of the job.
type JobResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Total      int
	Successful int

	// Skipped counts tasks where no station met the coverage threshold.
	Skipped int
	Failed  int

	RunIDs []string
	Errors []TaskError
}

// TaskError is the failure of one task.
type TaskError struct {
	Task  Task
	Error string
}

// Run computes the grids of every target for date (today when zero).
func (j *GridJob) Run(ctx context.Context, date time.Time) *JobResult {
	if date.IsZero() {
		date = j.now()
	}
	return j.RunTasks(ctx, j.config.Tasks(series.Day(date)))
}

// RunTasks computes the given tasks with bounded concurrency. Failures of
// single tasks are collected, never returned.
func (j *GridJob) RunTasks(ctx context.Context, tasks []Task) *JobResult {
	start := time.Now()
	result := &JobResult{StartTime: start, Total: len(tasks)}

	j.logger.Info().
		Int("tasks", len(tasks)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting grid job")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			runID, skipped, err := j.runTask(gctx, task)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, TaskError{Task: task, Error: err.Error()})
			case skipped:
				result.Skipped++
				result.RunIDs = append(result.RunIDs, runID)
			default:
				result.Successful++
				result.RunIDs = append(result.RunIDs, runID)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	j.metrics.record(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("grid job completed")

	return result
}

func (j *GridJob) runTask(ctx context.Context, task Task) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	req := j.config.Template
	req.City = task.City
	req.Pollutant = task.Pollutant
	req.Date = task.Date

	res, err := j.runner.Run(ctx, req)
	if err != nil {
		j.logger.Error().
			Err(err).
			Str("city", task.City).
			Str("pollutant", string(task.Pollutant)).
			Msg("grid task failed")
		return "", false, err
	}
	return res.RunID, len(res.Qualified) == 0, nil
}

// JobMetrics accumulates statistics over job runs.
type JobMetrics struct {
	mu sync.RWMutex

	Runs       int64
	Tasks      int64
	Successful int64
	Skipped    int64
	Failed     int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

func (m *JobMetrics) record(r *JobResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Runs++
	m.Tasks += int64(r.Total)
	m.Successful += int64(r.Successful)
	m.Skipped += int64(r.Skipped)
	m.Failed += int64(r.Failed)
	m.LastRunAt = r.EndTime
	m.LastRunDuration = r.Duration
	m.TotalDuration += r.Duration
}

// JobMetricsSnapshot is a copy of JobMetrics.
type JobMetricsSnapshot struct {
	Runs            int64
	Tasks           int64
	Successful      int64
	Skipped         int64
	Failed          int64
	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// Metrics returns a snapshot of the job statistics.
func (j *GridJob) Metrics() JobMetricsSnapshot {
	m := j.metrics
	m.mu.RLock()
	defer m.mu.RUnlock()

	return JobMetricsSnapshot{
		Runs:            m.Runs,
		Tasks:           m.Tasks,
		Successful:      m.Successful,
		Skipped:         m.Skipped,
		Failed:          m.Failed,
		LastRunAt:       m.LastRunAt,
		LastRunDuration: m.LastRunDuration,
		TotalDuration:   m.TotalDuration,
	}
}
