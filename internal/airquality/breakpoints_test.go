package airquality_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqfield/aqfield/internal/airquality"
)

func TestDefaultTables_Valid(t *testing.T) {
	tables := airquality.DefaultTables()
	assert.Equal(t, airquality.AllPollutants(), tables.Pollutants())

	for _, p := range tables.Pollutants() {
		table, err := tables.Table(p)
		require.NoError(t, err)
		assert.NoError(t, table.Validate())
	}
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name     string
		segments []airquality.Segment
	}{
		{"no segments", nil},
		{"empty index range", []airquality.Segment{{IndexLo: 10, IndexHi: 10, ConcLo: 0, ConcHi: 1}}},
		{"decreasing concentration", []airquality.Segment{{IndexLo: 0, IndexHi: 50, ConcLo: 5, ConcHi: 1}}},
		{"overlapping segments", []airquality.Segment{
			{IndexLo: 0, IndexHi: 50, ConcLo: 0, ConcHi: 5},
			{IndexLo: 40, IndexHi: 100, ConcLo: 6, ConcHi: 10},
		}},
		{"concentration going backwards", []airquality.Segment{
			{IndexLo: 0, IndexHi: 50, ConcLo: 0, ConcHi: 5},
			{IndexLo: 51, IndexHi: 100, ConcLo: 4, ConcHi: 10},
		}},
		{"non-finite bound", []airquality.Segment{{IndexLo: 0, IndexHi: math.Inf(1), ConcLo: 0, ConcHi: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := airquality.Table{Pollutant: airquality.PollutantCO, Segments: tt.segments}
			err := table.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, airquality.ErrMalformedTable)
		})
	}
}

func TestTable_Validate_UnknownPollutant(t *testing.T) {
	table := airquality.Table{
		Pollutant: "XX",
		Segments:  []airquality.Segment{{IndexLo: 0, IndexHi: 1, ConcLo: 0, ConcHi: 1}},
	}
	err := table.Validate()
	assert.ErrorIs(t, err, airquality.ErrMalformedTable)
	assert.ErrorIs(t, err, airquality.ErrUnknownPollutant)
}

func TestTable_Lookup(t *testing.T) {
	table, err := airquality.DefaultTables().Table(airquality.PollutantCO)
	require.NoError(t, err)

	tests := []struct {
		name    string
		index   float64
		found   bool
		indexLo float64
	}{
		{"zero", 0, true, 0},
		{"upper edge belongs to lower segment", 50, true, 0},
		{"between breakpoints", 50.5, true, 51},
		{"lower edge of next", 51, true, 51},
		{"above table on open-ended table", 800, true, 401},
		{"negative", -1, false, 0},
		{"NaN", math.NaN(), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segment, ok := table.Lookup(tt.index)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.indexLo, segment.IndexLo)
			}
		})
	}
}

func TestTable_Concentration(t *testing.T) {
	table, err := airquality.DefaultTables().Table(airquality.PollutantPM25)
	require.NoError(t, err)

	v, ok := table.Concentration(50.5)
	require.True(t, ok)
	assert.InDelta(t, 12, v, 1e-9)

	v, ok = table.Concentration(150.9)
	require.True(t, ok)
	assert.InDelta(t, 55.4, v, 1e-9)

	_, ok = table.Concentration(-0.5)
	assert.False(t, ok)
}

func TestTable_MaxIndex(t *testing.T) {
	tables := airquality.DefaultTables()

	o3, err := tables.Table(airquality.PollutantO3)
	require.NoError(t, err)
	assert.Equal(t, 300.0, o3.MaxIndex())

	co, err := tables.Table(airquality.PollutantCO)
	require.NoError(t, err)
	assert.True(t, math.IsInf(co.MaxIndex(), 1))
}

func TestNewTables_CopiesSegments(t *testing.T) {
	segments := []airquality.Segment{{IndexLo: 0, IndexHi: 100, ConcLo: 0, ConcHi: 10}}
	tables, err := airquality.NewTables(airquality.Table{Pollutant: airquality.PollutantSO2, Segments: segments})
	require.NoError(t, err)

	segments[0].ConcHi = 1000

	table, err := tables.Table(airquality.PollutantSO2)
	require.NoError(t, err)
	assert.Equal(t, 10.0, table.Segments[0].ConcHi)
}

func TestNewTables_RejectsMalformed(t *testing.T) {
	_, err := airquality.NewTables(airquality.Table{Pollutant: airquality.PollutantSO2})
	assert.ErrorIs(t, err, airquality.ErrMalformedTable)
}
