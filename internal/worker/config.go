// Package worker runs batch grid computations from Pub/Sub messages.
package worker

import (
	"sort"
	"time"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/analysis"
)

// Target is a city and the pollutants computed for it.
type Target struct {
	City       string
	Pollutants []airquality.Pollutant

	// Priority orders targets within a job (lower runs first).
	Priority int
}

// GridJobConfig holds configuration for the grid job.
type GridJobConfig struct {
	// Targets are the cities and pollutants computed by a run.
	Targets []Target

	// Concurrency is the number of grids computed at once. Default: 3
	Concurrency int

	// Timeout bounds each grid computation. Default: 2 minutes
	Timeout time.Duration

	// Template supplies the request fields shared by every task. City,
	// Pollutant and Date are overwritten per task.
	Template analysis.Request
}

// DefaultGridJobConfig returns the default configuration with no targets.
func DefaultGridJobConfig() GridJobConfig {
	return GridJobConfig{
		Concurrency: 3,
		Timeout:     2 * time.Minute,
	}
}

// Task is one grid computation of a job.
type Task struct {
	City      string
	Pollutant airquality.Pollutant
	Date      time.Time
}

// Tasks expands the targets into tasks for date, ordered by priority.
func (c GridJobConfig) Tasks(date time.Time) []Task {
	targets := make([]Target, len(c.Targets))
	copy(targets, c.Targets)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Priority < targets[j].Priority })

	var tasks []Task
	for _, t := range targets {
		for _, p := range t.Pollutants {
			tasks = append(tasks, Task{City: t.City, Pollutant: p, Date: date})
		}
	}
	return tasks
}

// TotalTasks returns the number of grids a run computes.
func (c GridJobConfig) TotalTasks() int {
	total := 0
	for _, t := range c.Targets {
		total += len(t.Pollutants)
	}
	return total
}
