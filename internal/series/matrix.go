// Package series holds the date by location matrices used for temporal
// aggregation and coverage statistics.
package series

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/aqfield/aqfield/internal/airquality"
)

// Series errors.
var (
	ErrPollutantMismatch = errors.New("reading pollutant does not match matrix pollutant")
	ErrInvalidSpan       = errors.New("span end is before span start")
)

// Absent returns the marker stored for a missing value.
func Absent() float64 {
	return math.NaN()
}

// IsAbsent reports whether v is the absent marker. Infinities carry no
// measurement and count as absent too.
func IsAbsent(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days returns every calendar day from from to to, inclusive.
func Days(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return nil
	}
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Matrix maps (date, location) to a value for one pollutant and region.
// Dates are unique UTC days in ascending order, locations are sorted codes.
// Missing cells hold the absent marker, never zero.
type Matrix struct {
	Pollutant airquality.Pollutant
	Region    string

	dates     []time.Time
	locations []string
	dateIdx   map[int64]int
	locIdx    map[string]int
	values    [][]float64 // [date][location]
}

// NewMatrix creates an all-absent matrix. Dates are truncated to days and
// deduplicated; both axes are sorted.
func NewMatrix(pollutant airquality.Pollutant, dates []time.Time, locations []string) *Matrix {
	dateSet := make(map[int64]time.Time, len(dates))
	for _, d := range dates {
		day := Day(d)
		dateSet[day.Unix()] = day
	}
	sortedDates := make([]time.Time, 0, len(dateSet))
	for _, d := range dateSet {
		sortedDates = append(sortedDates, d)
	}
	sort.Slice(sortedDates, func(i, j int) bool { return sortedDates[i].Before(sortedDates[j]) })

	locSet := make(map[string]struct{}, len(locations))
	sortedLocs := make([]string, 0, len(locations))
	for _, l := range locations {
		if _, ok := locSet[l]; ok {
			continue
		}
		locSet[l] = struct{}{}
		sortedLocs = append(sortedLocs, l)
	}
	sort.Strings(sortedLocs)

	m := &Matrix{
		Pollutant: pollutant,
		dates:     sortedDates,
		locations: sortedLocs,
		dateIdx:   make(map[int64]int, len(sortedDates)),
		locIdx:    make(map[string]int, len(sortedLocs)),
		values:    make([][]float64, len(sortedDates)),
	}
	for i, d := range sortedDates {
		m.dateIdx[d.Unix()] = i
		row := make([]float64, len(sortedLocs))
		for j := range row {
			row[j] = Absent()
		}
		m.values[i] = row
	}
	for j, l := range sortedLocs {
		m.locIdx[l] = j
	}
	return m
}

// Len returns the number of dates.
func (m *Matrix) Len() int {
	return len(m.dates)
}

// Dates returns a copy of the date axis.
func (m *Matrix) Dates() []time.Time {
	out := make([]time.Time, len(m.dates))
	copy(out, m.dates)
	return out
}

// Locations returns a copy of the location axis.
func (m *Matrix) Locations() []string {
	out := make([]string, len(m.locations))
	copy(out, m.locations)
	return out
}

// Set stores v at (date, location). Non-finite values are stored as absent.
// It returns false when either key is not part of the matrix.
func (m *Matrix) Set(date time.Time, location string, v float64) bool {
	i, j, ok := m.index(date, location)
	if !ok {
		return false
	}
	if IsAbsent(v) {
		v = Absent()
	}
	m.values[i][j] = v
	return true
}

// Get returns the value at (date, location). The boolean is false when either
// key is not part of the matrix; an absent cell returns the absent marker and true.
func (m *Matrix) Get(date time.Time, location string) (float64, bool) {
	i, j, ok := m.index(date, location)
	if !ok {
		return Absent(), false
	}
	return m.values[i][j], true
}

// Column returns a copy of the values of location in date order, or nil if
// the location is unknown.
func (m *Matrix) Column(location string) []float64 {
	j, ok := m.locIdx[location]
	if !ok {
		return nil
	}
	out := make([]float64, len(m.dates))
	for i := range m.dates {
		out[i] = m.values[i][j]
	}
	return out
}

// Row returns a copy of the values of date in location order, or nil if the
// date is unknown.
func (m *Matrix) Row(date time.Time) []float64 {
	i, ok := m.dateIdx[Day(date).Unix()]
	if !ok {
		return nil
	}
	out := make([]float64, len(m.locations))
	copy(out, m.values[i])
	return out
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	return m.Map(func(v float64) float64 { return v })
}

// Map returns a new matrix with fn applied to every present value.
// Absent cells stay absent.
func (m *Matrix) Map(fn func(float64) float64) *Matrix {
	out := m.like(m.dates)
	for i, row := range m.values {
		for j, v := range row {
			if IsAbsent(v) {
				continue
			}
			if r := fn(v); !IsAbsent(r) {
				out.values[i][j] = r
			}
		}
	}
	return out
}

// Slice returns a new matrix restricted to dates in [from, to].
func (m *Matrix) Slice(from, to time.Time) *Matrix {
	from, to = Day(from), Day(to)

	lo := sort.Search(len(m.dates), func(i int) bool { return !m.dates[i].Before(from) })
	hi := sort.Search(len(m.dates), func(i int) bool { return m.dates[i].After(to) })
	if hi < lo {
		hi = lo
	}

	out := m.like(m.dates[lo:hi])
	for i := lo; i < hi; i++ {
		copy(out.values[i-lo], m.values[i])
	}
	return out
}

// Select returns a new matrix with only the given locations. Unknown
// locations are ignored.
func (m *Matrix) Select(locations []string) *Matrix {
	var keep []string
	for _, l := range locations {
		if _, ok := m.locIdx[l]; ok {
			keep = append(keep, l)
		}
	}

	out := NewMatrix(m.Pollutant, m.dates, keep)
	out.Region = m.Region
	for i := range m.dates {
		for j, l := range out.locations {
			out.values[i][j] = m.values[i][m.locIdx[l]]
		}
	}
	return out
}

// like returns an all-absent matrix with the same locations and metadata.
func (m *Matrix) like(dates []time.Time) *Matrix {
	out := NewMatrix(m.Pollutant, dates, m.locations)
	out.Region = m.Region
	return out
}

func (m *Matrix) index(date time.Time, location string) (int, int, bool) {
	i, ok := m.dateIdx[Day(date).Unix()]
	if !ok {
		return 0, 0, false
	}
	j, ok := m.locIdx[location]
	if !ok {
		return 0, 0, false
	}
	return i, j, true
}
