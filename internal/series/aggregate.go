package series

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aqfield/aqfield/internal/airquality"
)

// MissingSentinel is the value upstream feeds write for a missing reading.
const MissingSentinel = -99

// DefaultRollingWindow is the trailing window, in days, used when none is given.
const DefaultRollingWindow = 7

// AggFunc reduces the values of one day and location.
type AggFunc string

const (
	AggMean   AggFunc = "mean"
	AggMedian AggFunc = "median"
)

// ParseAggFunc converts a name to an AggFunc. An empty name selects AggMedian.
func ParseAggFunc(name string) (AggFunc, error) {
	switch AggFunc(strings.ToLower(strings.TrimSpace(name))) {
	case "", AggMedian:
		return AggMedian, nil
	case AggMean:
		return AggMean, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q", name)
	}
}

// Reduce applies the aggregation to values. Absent values are skipped; an
// input with no present values yields the absent marker.
func (f AggFunc) Reduce(values []float64) float64 {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !IsAbsent(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return Absent()
	}

	switch f {
	case AggMean:
		return stat.Mean(present, nil)
	default:
		sort.Float64s(present)
		return medianOfSorted(present)
	}
}

func medianOfSorted(values []float64) float64 {
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// AggregateConfig controls how readings become a daily matrix.
type AggregateConfig struct {
	// Func reduces the readings of one day and location (default: median).
	Func AggFunc

	// From and To bound the date axis. Readings outside are dropped. A zero
	// bound takes the first or last observed day.
	From time.Time
	To   time.Time

	// Locations are columns kept even when they have no readings.
	Locations []string
}

// DailyAggregate groups readings by UTC day and location and reduces each
// group with agg. Days without readings inside the observed span become
// all-absent rows.
func DailyAggregate(pollutant airquality.Pollutant, readings []airquality.Reading, agg AggFunc) (*Matrix, error) {
	return Aggregate(pollutant, readings, AggregateConfig{Func: agg})
}

// Aggregate is DailyAggregate with an explicit span and location set.
// Non-finite values and MissingSentinel readings are skipped.
func Aggregate(pollutant airquality.Pollutant, readings []airquality.Reading, cfg AggregateConfig) (*Matrix, error) {
	agg := cfg.Func
	if agg == "" {
		agg = AggMedian
	}
	if !cfg.From.IsZero() && !cfg.To.IsZero() && Day(cfg.To).Before(Day(cfg.From)) {
		return nil, fmt.Errorf("%w: %s..%s", ErrInvalidSpan, cfg.From.Format(time.DateOnly), cfg.To.Format(time.DateOnly))
	}

	type key struct {
		day      int64
		location string
	}
	groups := make(map[key][]float64)
	locations := append([]string(nil), cfg.Locations...)
	seen := make(map[string]struct{}, len(locations))
	for _, l := range locations {
		seen[l] = struct{}{}
	}

	var first, last time.Time
	for _, r := range readings {
		if r.Pollutant != pollutant {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrPollutantMismatch, r.Pollutant, pollutant)
		}
		day := Day(r.Timestamp)
		if !cfg.From.IsZero() && day.Before(Day(cfg.From)) {
			continue
		}
		if !cfg.To.IsZero() && day.After(Day(cfg.To)) {
			continue
		}
		if _, ok := seen[r.StationCode]; !ok {
			seen[r.StationCode] = struct{}{}
			locations = append(locations, r.StationCode)
		}
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if last.IsZero() || day.After(last) {
			last = day
		}
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) || r.Value == MissingSentinel {
			continue
		}
		k := key{day: day.Unix(), location: r.StationCode}
		groups[k] = append(groups[k], r.Value)
	}

	from, to := first, last
	if !cfg.From.IsZero() {
		from = Day(cfg.From)
	}
	if !cfg.To.IsZero() {
		to = Day(cfg.To)
	}

	var dates []time.Time
	if !from.IsZero() && !to.IsZero() {
		dates = Days(from, to)
	}

	m := NewMatrix(pollutant, dates, locations)
	for k, values := range groups {
		m.Set(time.Unix(k.day, 0), k.location, agg.Reduce(values))
	}
	return m, nil
}

// RollingAverage computes a trailing mean over window rows for every location.
// Rows with fewer than window predecessors average what is available, and
// absent values are left out of both the sum and the count. Each window is
// summed afresh, so one bad value never leaks past the rows it covers. A
// window with no present value yields the absent marker. window <= 0 selects
// DefaultRollingWindow.
func RollingAverage(m *Matrix, window int) *Matrix {
	if window <= 0 {
		window = DefaultRollingWindow
	}

	out := m.like(m.dates)
	for j := range m.locations {
		for i := range m.dates {
			var sum float64
			var count int
			for k := max(0, i-window+1); k <= i; k++ {
				if v := m.values[k][j]; !IsAbsent(v) {
					sum += v
					count++
				}
			}
			if count > 0 {
				out.values[i][j] = sum / float64(count)
			}
		}
	}
	return out
}

// ReduceAcross reduces every row across locations, giving one value per date.
func ReduceAcross(m *Matrix, agg AggFunc) []float64 {
	out := make([]float64, len(m.dates))
	for i, row := range m.values {
		out[i] = agg.Reduce(row)
	}
	return out
}
