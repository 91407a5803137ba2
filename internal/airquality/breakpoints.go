package airquality

import (
	"fmt"
	"math"
)

// Segment is one linear piece of a breakpoint table.
type Segment struct {
	IndexLo float64
	IndexHi float64
	ConcLo  float64
	ConcHi  float64
}

// at evaluates the segment's linear formula for index.
func (s Segment) at(index float64) float64 {
	return (index-s.IndexLo)*(s.ConcHi-s.ConcLo)/(s.IndexHi-s.IndexLo) + s.ConcLo
}

// Table is the ordered breakpoint table of a single pollutant.
//
// The first segment covers [IndexLo, IndexHi]. Every later segment covers
// (previous IndexHi, IndexHi], so an index that falls between two published
// breakpoints (50.5 between 50 and 51) is evaluated with the upper segment,
// floored at the previous segment's ConcHi.
// When OpenEnded is set, the last segment also covers every index above its
// IndexHi. Otherwise such indices have no concentration.
type Table struct {
	Pollutant Pollutant
	Segments  []Segment
	OpenEnded bool
}

// Validate checks the ordering invariants of the table.
func (t Table) Validate() error {
	if !t.Pollutant.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrMalformedTable, ErrUnknownPollutant, t.Pollutant)
	}
	if len(t.Segments) == 0 {
		return fmt.Errorf("%w: %s has no segments", ErrMalformedTable, t.Pollutant)
	}

	for i, s := range t.Segments {
		for _, v := range []float64{s.IndexLo, s.IndexHi, s.ConcLo, s.ConcHi} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s segment %d has non-finite bounds", ErrMalformedTable, t.Pollutant, i)
			}
		}
		if s.IndexLo >= s.IndexHi {
			return fmt.Errorf("%w: %s segment %d index range [%g, %g] is empty",
				ErrMalformedTable, t.Pollutant, i, s.IndexLo, s.IndexHi)
		}
		if s.ConcLo > s.ConcHi {
			return fmt.Errorf("%w: %s segment %d concentration range is decreasing", ErrMalformedTable, t.Pollutant, i)
		}
		if i == 0 {
			continue
		}
		prev := t.Segments[i-1]
		if s.IndexLo < prev.IndexHi {
			return fmt.Errorf("%w: %s segment %d overlaps segment %d", ErrMalformedTable, t.Pollutant, i, i-1)
		}
		if s.ConcLo < prev.ConcHi {
			return fmt.Errorf("%w: %s segment %d concentration starts below segment %d", ErrMalformedTable, t.Pollutant, i, i-1)
		}
	}

	return nil
}

// Lookup returns the segment whose range contains index.
func (t Table) Lookup(index float64) (Segment, bool) {
	i, ok := t.find(index)
	if !ok {
		return Segment{}, false
	}
	return t.Segments[i], true
}

// Concentration evaluates the table at index. Between two published
// breakpoints the upper segment's value is raised to the lower segment's
// ConcHi when it would fall below it, so the conversion never decreases.
func (t Table) Concentration(index float64) (float64, bool) {
	i, ok := t.find(index)
	if !ok {
		return 0, false
	}
	s := t.Segments[i]
	v := s.at(index)
	if i > 0 && index < s.IndexLo {
		v = math.Max(v, t.Segments[i-1].ConcHi)
	}
	return v, true
}

func (t Table) find(index float64) (int, bool) {
	if len(t.Segments) == 0 || math.IsNaN(index) || math.IsInf(index, 0) {
		return 0, false
	}
	if index < t.Segments[0].IndexLo {
		return 0, false
	}

	for i, s := range t.Segments {
		if index <= s.IndexHi {
			return i, true
		}
	}

	if t.OpenEnded {
		return len(t.Segments) - 1, true
	}
	return 0, false
}

// MaxIndex returns the highest index with a defined concentration.
// Open-ended tables return +Inf.
func (t Table) MaxIndex() float64 {
	if t.OpenEnded {
		return math.Inf(1)
	}
	if len(t.Segments) == 0 {
		return math.Inf(-1)
	}
	return t.Segments[len(t.Segments)-1].IndexHi
}

// Tables is an immutable set of breakpoint tables keyed by pollutant.
type Tables struct {
	byPollutant map[Pollutant]Table
}

// NewTables validates and indexes the given tables.
// A later table for the same pollutant replaces an earlier one.
func NewTables(tables ...Table) (*Tables, error) {
	byPollutant := make(map[Pollutant]Table, len(tables))
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		segments := make([]Segment, len(t.Segments))
		copy(segments, t.Segments)
		t.Segments = segments
		byPollutant[t.Pollutant] = t
	}
	return &Tables{byPollutant: byPollutant}, nil
}

// Table returns the table for p.
func (ts *Tables) Table(p Pollutant) (Table, error) {
	t, ok := ts.byPollutant[p]
	if !ok {
		return Table{}, fmt.Errorf("%w: no breakpoint table for %q", ErrUnknownPollutant, p)
	}
	return t, nil
}

// Pollutants returns the pollutants covered, in canonical order.
func (ts *Tables) Pollutants() []Pollutant {
	var out []Pollutant
	for _, p := range AllPollutants() {
		if _, ok := ts.byPollutant[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

var defaultTables = mustTables(
	Table{
		Pollutant: PollutantCO,
		OpenEnded: true,
		Segments: []Segment{
			{0, 50, 0, 4.4},
			{51, 100, 4.5, 9.4},
			{101, 150, 9.5, 12.4},
			{151, 200, 12.5, 15.4},
			{201, 300, 15.5, 30.4},
			{301, 400, 30.5, 40.4},
			{401, 500, 40.5, 50.4},
		},
	},
	Table{
		Pollutant: PollutantNO2,
		OpenEnded: true,
		Segments: []Segment{
			{0, 50, 0, 53},
			{51, 100, 54, 100},
			{101, 150, 101, 360},
			{151, 200, 361, 649},
			{201, 300, 650, 1249},
			{301, 400, 1250, 1649},
			{401, 500, 1650, 2049},
		},
	},
	// O3 stops at 300. Higher indices have no published 8-hour breakpoint
	// and convert to 0 with InRange unset.
	Table{
		Pollutant: PollutantO3,
		Segments: []Segment{
			{0, 50, 0, 0.054},
			{51, 100, 0.055, 0.070},
			{101, 150, 0.071, 0.085},
			{151, 200, 0.086, 0.105},
			{201, 300, 0.106, 0.200},
		},
	},
	Table{
		Pollutant: PollutantPM10,
		OpenEnded: true,
		Segments: []Segment{
			{0, 50, 0, 54},
			{51, 100, 55, 154},
			{101, 150, 155, 254},
			{151, 200, 255, 354},
			{201, 300, 355, 424},
			{301, 400, 425, 504},
			{401, 500, 505, 604},
		},
	},
	Table{
		Pollutant: PollutantPM25,
		OpenEnded: true,
		Segments: []Segment{
			{0, 50, 0, 12},
			{51, 100, 12.1, 35.4},
			{101, 150, 35.5, 55.4},
			{151, 200, 55.5, 150.4},
			{201, 300, 150.5, 250.4},
			{301, 400, 250.5, 350.4},
			{401, 500, 350.5, 500.4},
		},
	},
	Table{
		Pollutant: PollutantSO2,
		OpenEnded: true,
		Segments: []Segment{
			{0, 50, 0, 35},
			{51, 100, 36, 75},
			{101, 150, 76, 185},
			{151, 200, 186, 304},
			{201, 300, 305, 604},
			{301, 400, 605, 804},
			{401, 500, 805, 1004},
		},
	},
)

// DefaultTables returns the US EPA breakpoint tables (AQI technical assistance
// document, September 2018).
func DefaultTables() *Tables {
	return defaultTables
}

func mustTables(tables ...Table) *Tables {
	ts, err := NewTables(tables...)
	if err != nil {
		panic(err)
	}
	return ts
}
