package models

// Pollutant describes one supported pollutant.
type Pollutant struct {
	Code           string  `json:"code"`
	Unit           string  `json:"unit"`
	MaxIndex       *int    `json:"maxIndex,omitempty"`
	OutlierCeiling float64 `json:"outlierCeiling"`
	ReferenceLimit float64 `json:"referenceLimit"`
	HasIMECA       bool    `json:"hasImeca"`
}

// PollutantList is the response of GET /v1/pollutants.
type PollutantList struct {
	Items []Pollutant `json:"items"`
}

// Conversion is the response of GET /v1/convert.
type Conversion struct {
	Pollutant     string   `json:"pollutant"`
	AQI           float64  `json:"aqi"`
	Concentration float64  `json:"concentration"`
	Unit          string   `json:"unit"`
	InRange       bool     `json:"inRange"`
	IMECA         *float64 `json:"imeca,omitempty"`
	Category      string   `json:"category,omitempty"`
	Color         string   `json:"color,omitempty"`
}

// Window selects the dates coverage is computed over. Either the month
// fields or From/To are used.
type Window struct {
	FromMonth int   `json:"fromMonth,omitempty"`
	ToMonth   int   `json:"toMonth,omitempty"`
	FromYear  int   `json:"fromYear,omitempty"`
	ToYear    int   `json:"toYear,omitempty"`
	From      *Date `json:"from,omitempty"`
	To        *Date `json:"to,omitempty"`
}

// GridComputeRequest is the body of POST /v1/grids:compute.
type GridComputeRequest struct {
	City        string `json:"city"`
	Pollutant   string `json:"pollutant"`
	Date        *Date  `json:"date"`
	Mode        string `json:"mode,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`

	// CoverageThreshold falls back to the service default when omitted.
	// An explicit 0 keeps every station with readings.
	CoverageThreshold *float64 `json:"coverageThreshold,omitempty"`
	SmoothingWindow   int      `json:"smoothingWindow,omitempty"`
	CellSize          float64  `json:"cellSize,omitempty"`
	Smooth            bool     `json:"smooth,omitempty"`
	MaskOutliers      bool     `json:"maskOutliers,omitempty"`
	Window            *Window  `json:"window,omitempty"`

	// Clip is an encoded polyline of the boundary ring.
	Clip string `json:"clip,omitempty"`
}

// StationValue is the value of one station on the grid date.
type StationValue struct {
	Station string  `json:"station"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Value   float64 `json:"value"`
}

// Cell is one lattice cell. Value is null when no estimate exists.
type Cell struct {
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Value *float64 `json:"value"`
}

// Grid is a computed or stored grid run.
type Grid struct {
	RunID      string         `json:"runId"`
	City       string         `json:"city"`
	Pollutant  string         `json:"pollutant"`
	Date       Date           `json:"date"`
	Mode       string         `json:"mode"`
	CellSize   float64        `json:"cellSize"`
	Power      float64        `json:"power"`
	Metric     string         `json:"metric"`
	Box        *BoundingBox   `json:"box,omitempty"`
	Qualified  []string       `json:"qualified"`
	Stations   []StationValue `json:"stations,omitempty"`
	OutOfRange int            `json:"outOfRange"`
	ComputedAt Timestamp      `json:"computedAt"`
	Cells      []Cell         `json:"cells"`
}

// CoverageStat is the coverage of one station.
type CoverageStat struct {
	Station         string  `json:"station"`
	Present         int     `json:"present"`
	Total           int     `json:"total"`
	Ratio           float64 `json:"ratio"`
	PresentSmoothed int     `json:"presentSmoothed"`
	RatioSmoothed   float64 `json:"ratioSmoothed"`
	Qualified       bool    `json:"qualified"`
}

// Coverage is the response of GET /v1/coverage.
type Coverage struct {
	City      string         `json:"city"`
	Pollutant string         `json:"pollutant"`
	Threshold float64        `json:"threshold"`
	Qualified []string       `json:"qualified"`
	Stations  []CoverageStat `json:"stations"`
}

// StationChange is the year-over-year change of one station. Absent values are null.
type StationChange struct {
	Station  string   `json:"station"`
	Current  *float64 `json:"current"`
	Previous *float64 `json:"previous"`
	Change   *float64 `json:"change"`
}

// Change is the response of GET /v1/change.
type Change struct {
	City      string          `json:"city"`
	Pollutant string          `json:"pollutant"`
	Date      Date            `json:"date"`
	Prior     Date            `json:"prior"`
	Stations  []StationChange `json:"stations"`
}
