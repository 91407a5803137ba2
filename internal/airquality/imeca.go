package airquality

import (
	"fmt"
	"math"
)

// Category is an air quality band of the Mexican metropolitan index (IMECA).
type Category string

const (
	CategoryGood               Category = "GOOD"
	CategoryModerate           Category = "MODERATE"
	CategoryUnhealthySensitive Category = "UNHEALTHY_SENSITIVE"
	CategoryUnhealthy          Category = "UNHEALTHY"
	CategoryVeryUnhealthy      Category = "VERY_UNHEALTHY"
	CategoryUnknown            Category = "UNKNOWN"
)

var categoryColors = map[Category]string{
	CategoryGood:               "#75b46f",
	CategoryModerate:           "#f7ff55",
	CategoryUnhealthySensitive: "#ff9e4f",
	CategoryUnhealthy:          "#db3331",
	CategoryVeryUnhealthy:      "#c158b8",
	CategoryUnknown:            "#ffffff",
}

// Color returns the hex colour used to render the category.
func (c Category) Color() string {
	if color, ok := categoryColors[c]; ok {
		return color
	}
	return categoryColors[CategoryUnknown]
}

// Classify maps an IMECA value to its category.
func Classify(index float64) Category {
	switch {
	case math.IsNaN(index):
		return CategoryUnknown
	case index <= 50:
		return CategoryGood
	case index <= 100:
		return CategoryModerate
	case index <= 150:
		return CategoryUnhealthySensitive
	case index <= 200:
		return CategoryUnhealthy
	default:
		return CategoryVeryUnhealthy
	}
}

// imecaPiece evaluates slope*(c-offset)+base for concentrations up to upper.
type imecaPiece struct {
	upper  float64
	slope  float64
	offset float64
	base   float64
}

// O3 pieces take ppm; converted O3 concentrations are ppb.
var o3Pieces = []imecaPiece{
	{0.07, 714.29, 0, 0},
	{0.095, 2041.67, 0.071, 51},
	{0.154, 844.83, 0.096, 101},
	{0.204, 1000, 0.155, 151},
	{0.404, 497.49, 0.205, 201},
	{math.Inf(1), 1000, 0.104, 0},
}

var pm10Pieces = []imecaPiece{
	{40, 1.25, 0, 0},
	{75, 1.44, 41, 51},
	{214, 0.355, 76, 101},
	{354, 0.353, 215, 151},
	{424, 1.4359, 355, 201},
	{504, 1.253, 425, 301},
	{math.Inf(1), 1, 104, 0},
}

// IMECA computes the Mexican metropolitan air quality index for a
// concentration expressed in the unit returned by Converter.
func IMECA(p Pollutant, concentration float64) (float64, error) {
	switch p {
	case PollutantCO:
		return concentration * 100 / 11, nil
	case PollutantSO2:
		return (concentration / 1000) * 100 / 0.11, nil
	case PollutantNO2:
		return (concentration / 1000) * 100 / 0.21, nil
	case PollutantO3:
		return piecewise(o3Pieces, concentration/1000), nil
	case PollutantPM10:
		return piecewise(pm10Pieces, concentration), nil
	case PollutantPM25:
		return 0, fmt.Errorf("%w: %s", ErrIndexUndefined, p)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPollutant, p)
	}
}

func piecewise(pieces []imecaPiece, c float64) float64 {
	if math.IsNaN(c) {
		return math.NaN()
	}
	for _, piece := range pieces {
		if c <= piece.upper {
			return piece.slope*(c-piece.offset) + piece.base
		}
	}
	return math.NaN()
}
