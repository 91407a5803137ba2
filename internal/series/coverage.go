package series

import (
	"math"
	"sort"
	"time"
)

// DefaultCoverageThreshold is the minimum coverage ratio a location needs to qualify.
const DefaultCoverageThreshold = 0.75

// Window selects the dates a coverage statistic is computed over.
type Window interface {
	Contains(date time.Time) bool
}

// MonthWindow selects the months FromMonth..ToMonth of the years
// FromYear..ToYear. A FromMonth after ToMonth wraps over the new year, so
// November..February covers the winter. Zero years leave that side open.
type MonthWindow struct {
	FromMonth time.Month
	ToMonth   time.Month
	FromYear  int
	ToYear    int
}

// Contains implements Window.
func (w MonthWindow) Contains(date time.Time) bool {
	date = date.UTC()
	if w.FromYear != 0 && date.Year() < w.FromYear {
		return false
	}
	if w.ToYear != 0 && date.Year() > w.ToYear {
		return false
	}

	from, to := w.FromMonth, w.ToMonth
	if from == 0 {
		from = time.January
	}
	if to == 0 {
		to = time.December
	}
	month := date.Month()
	if from <= to {
		return month >= from && month <= to
	}
	return month >= from || month <= to
}

// RangeWindow selects the days From..To inclusive. A zero bound is open.
type RangeWindow struct {
	From time.Time
	To   time.Time
}

// Contains implements Window.
func (w RangeWindow) Contains(date time.Time) bool {
	day := Day(date)
	if !w.From.IsZero() && day.Before(Day(w.From)) {
		return false
	}
	if !w.To.IsZero() && day.After(Day(w.To)) {
		return false
	}
	return true
}

// CoverageStat describes how complete the series of one location is.
type CoverageStat struct {
	Location        string
	Present         int
	Total           int
	Ratio           float64
	PresentSmoothed int
	RatioSmoothed   float64
}

// Coverage computes the coverage of every location over the matrix dates
// selected by window (all dates when window is nil). The smoothed counts are
// taken after a trailing RollingAverage of smoothingWindow days.
func Coverage(m *Matrix, window Window, smoothingWindow int) map[string]CoverageStat {
	smoothed := RollingAverage(m, smoothingWindow)

	var rows []int
	for i, d := range m.dates {
		if window == nil || window.Contains(d) {
			rows = append(rows, i)
		}
	}

	stats := make(map[string]CoverageStat, len(m.locations))
	for j, loc := range m.locations {
		stat := CoverageStat{Location: loc, Total: len(rows)}
		for _, i := range rows {
			if !IsAbsent(m.values[i][j]) {
				stat.Present++
			}
			if !IsAbsent(smoothed.values[i][j]) {
				stat.PresentSmoothed++
			}
		}
		if stat.Total > 0 {
			stat.Ratio = float64(stat.Present) / float64(stat.Total)
			stat.RatioSmoothed = float64(stat.PresentSmoothed) / float64(stat.Total)
		}
		stats[loc] = stat
	}
	return stats
}

// Filter returns the sorted locations whose pre-smoothing ratio is at least
// threshold. A threshold of 0 keeps every location with a non-empty window;
// a negative or NaN threshold selects DefaultCoverageThreshold. No qualifying
// location yields an empty slice.
func Filter(stats map[string]CoverageStat, threshold float64) []string {
	if threshold < 0 || math.IsNaN(threshold) {
		threshold = DefaultCoverageThreshold
	}

	out := []string{}
	for loc, stat := range stats {
		if stat.Total > 0 && stat.Ratio >= threshold {
			out = append(out, loc)
		}
	}
	sort.Strings(out)
	return out
}

// SortedStats returns the statistics ordered by location.
func SortedStats(stats map[string]CoverageStat) []CoverageStat {
	out := make([]CoverageStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}
