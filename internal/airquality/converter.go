package airquality

import (
	"runtime"
	"sync"
)

// minParallelBatch is the batch size below which ConvertAll stays on the caller's goroutine.
const minParallelBatch = 4096

// Conversion is the result of converting one AQI value.
type Conversion struct {
	// Value is the concentration in the pollutant's unit. It is 0 when InRange is false.
	Value float64

	// InRange is false when no breakpoint segment covers the index, so a 0
	// produced by a table gap can be told apart from a measured 0.
	InRange bool
}

// Converter converts AQI values to concentrations using breakpoint tables.
// It is immutable and safe for concurrent use.
type Converter struct {
	tables *Tables
}

// NewConverter creates a Converter backed by tables.
// A nil tables argument selects DefaultTables.
func NewConverter(tables *Tables) *Converter {
	if tables == nil {
		tables = DefaultTables()
	}
	return &Converter{tables: tables}
}

// Tables returns the breakpoint tables used by the converter.
func (c *Converter) Tables() *Tables {
	return c.tables
}

// Convert converts an AQI value of pollutant p to a concentration.
func (c *Converter) Convert(p Pollutant, aqi float64) (Conversion, error) {
	table, meta, err := c.lookup(p)
	if err != nil {
		return Conversion{}, err
	}
	return convert(table, meta, aqi), nil
}

// ConvertValue is Convert without the range flag. Indices outside the table yield 0.
func (c *Converter) ConvertValue(p Pollutant, aqi float64) (float64, error) {
	conv, err := c.Convert(p, aqi)
	return conv.Value, err
}

// ConvertAll converts a batch of AQI values, preserving order.
// Large batches are split across GOMAXPROCS goroutines.
func (c *Converter) ConvertAll(p Pollutant, values []float64) ([]Conversion, error) {
	table, meta, err := c.lookup(p)
	if err != nil {
		return nil, err
	}

	out := make([]Conversion, len(values))
	if len(values) < minParallelBatch {
		for i, v := range values {
			out[i] = convert(table, meta, v)
		}
		return out, nil
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(values) + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < len(values); start += chunk {
		end := min(start+chunk, len(values))
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = convert(table, meta, values[i])
			}
		}(start, end)
	}
	wg.Wait()

	return out, nil
}

func (c *Converter) lookup(p Pollutant) (Table, Metadata, error) {
	meta, err := MetadataFor(p)
	if err != nil {
		return Table{}, Metadata{}, err
	}
	table, err := c.tables.Table(p)
	if err != nil {
		return Table{}, Metadata{}, err
	}
	return table, meta, nil
}

func convert(table Table, meta Metadata, aqi float64) Conversion {
	v, ok := table.Concentration(aqi)
	if !ok {
		return Conversion{}
	}
	return Conversion{
		Value:   v * meta.Scale,
		InRange: true,
	}
}
