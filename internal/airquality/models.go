// Package airquality provides the pollutant model, AQI breakpoint tables and the
// AQI to concentration converter.
package airquality

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Model errors.
var (
	ErrUnknownPollutant = errors.New("unknown pollutant")
	ErrMalformedTable   = errors.New("malformed breakpoint table")
	ErrIndexUndefined   = errors.New("index undefined for pollutant")
)

// Pollutant represents a criteria pollutant code.
type Pollutant string

const (
	PollutantCO   Pollutant = "CO"
	PollutantNO2  Pollutant = "NO2"
	PollutantO3   Pollutant = "O3"
	PollutantPM10 Pollutant = "PM10"
	PollutantPM25 Pollutant = "PM25"
	PollutantSO2  Pollutant = "SO2"
)

// AllPollutants returns the recognised pollutant codes in canonical order.
func AllPollutants() []Pollutant {
	return []Pollutant{
		PollutantCO,
		PollutantNO2,
		PollutantO3,
		PollutantPM10,
		PollutantPM25,
		PollutantSO2,
	}
}

// Valid reports whether p is one of the recognised codes.
func (p Pollutant) Valid() bool {
	_, ok := metadata[p]
	return ok
}

// ParsePollutant converts a pollutant code to a Pollutant.
// Matching is case-insensitive; "PM2.5" and "PM2_5" are accepted for PM25.
func ParsePollutant(code string) (Pollutant, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	switch normalized {
	case "PM2.5", "PM2_5":
		normalized = string(PollutantPM25)
	}
	p := Pollutant(normalized)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPollutant, code)
	}
	return p, nil
}

// ValueMode tells the pipeline how to interpret reading values.
type ValueMode string

const (
	// ModeConcentration means values are already physical concentrations.
	ModeConcentration ValueMode = "concentration"
	// ModeAQI means values are AQI scores that must be converted.
	ModeAQI ValueMode = "aqi"
)

// ParseValueMode converts a mode name to a ValueMode. An empty name selects
// ModeConcentration.
func ParseValueMode(name string) (ValueMode, error) {
	switch ValueMode(strings.ToLower(strings.TrimSpace(name))) {
	case "", ModeConcentration:
		return ModeConcentration, nil
	case ModeAQI:
		return ModeAQI, nil
	default:
		return "", fmt.Errorf("unknown value mode %q", name)
	}
}

// Station represents an air quality monitoring station.
type Station struct {
	Code string
	Name string
	City string
	Lat  float64
	Lon  float64
}

// Reading represents a single reported value for a station and pollutant.
type Reading struct {
	StationCode string
	Pollutant   Pollutant
	Timestamp   time.Time
	Value       float64
}

// Metadata describes pollutant specific constants.
type Metadata struct {
	Pollutant Pollutant

	// Scale is applied to the converted concentration. O3 breakpoints are
	// published in ppm and reported in ppb.
	Scale float64

	// Unit is the unit of converted concentrations.
	Unit string

	// OutlierCeiling is the value above which a reading is treated as an outlier.
	OutlierCeiling float64

	// ReferenceLimit is the concentration considered bad air quality.
	ReferenceLimit float64
}

var metadata = map[Pollutant]Metadata{
	PollutantCO:   {Pollutant: PollutantCO, Scale: 1, Unit: "ppm", OutlierCeiling: 22, ReferenceLimit: 16.5},
	PollutantNO2:  {Pollutant: PollutantNO2, Scale: 1, Unit: "ppb", OutlierCeiling: 420, ReferenceLimit: 315},
	PollutantO3:   {Pollutant: PollutantO3, Scale: 1000, Unit: "ppb", OutlierCeiling: 454, ReferenceLimit: 100},
	PollutantPM10: {Pollutant: PollutantPM10, Scale: 1, Unit: "µg/m³", OutlierCeiling: 464, ReferenceLimit: 150},
	PollutantPM25: {Pollutant: PollutantPM25, Scale: 1, Unit: "µg/m³", OutlierCeiling: 300, ReferenceLimit: 97.4},
	PollutantSO2:  {Pollutant: PollutantSO2, Scale: 1, Unit: "ppb", OutlierCeiling: 195, ReferenceLimit: 100},
}

// MetadataFor returns the metadata of a pollutant.
func MetadataFor(p Pollutant) (Metadata, error) {
	m, ok := metadata[p]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrUnknownPollutant, p)
	}
	return m, nil
}
