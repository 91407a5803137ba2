package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/api/models"
	"github.com/aqfield/aqfield/internal/api/response"
	"github.com/aqfield/aqfield/internal/series"
)

// CoverageHandler reports station coverage.
type CoverageHandler struct {
	service *analysis.Service
	logger  zerolog.Logger
}

// NewCoverageHandler creates a new CoverageHandler.
func NewCoverageHandler(service *analysis.Service, logger zerolog.Logger) *CoverageHandler {
	return &CoverageHandler{service: service, logger: logger}
}

// GetCoverage handles
// GET /v1/coverage?city=&pollutant=&fromMonth=&toMonth=&fromYear=&toYear=&from=&to=&threshold=.
func (h *CoverageHandler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs []models.FieldError

	city := q.Get("city")
	if city == "" {
		errs = append(errs, models.FieldError{Field: "city", Message: "city is required", Code: models.CodeRequired})
	}

	pollutant, err := airquality.ParsePollutant(q.Get("pollutant"))
	if err != nil {
		errs = append(errs, pollutantError(q.Get("pollutant")))
	}

	ints := make(map[string]int)
	for _, field := range []string{"fromMonth", "toMonth", "fromYear", "toYear"} {
		raw := q.Get(field)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, models.FieldError{Field: field, Message: field + " must be an integer", Code: models.CodeInvalid})
			continue
		}
		ints[field] = v
	}

	wire := models.Window{
		FromMonth: ints["fromMonth"],
		ToMonth:   ints["toMonth"],
		FromYear:  ints["fromYear"],
		ToYear:    ints["toYear"],
	}
	for field, target := range map[string]**models.Date{"from": &wire.From, "to": &wire.To} {
		raw := q.Get(field)
		if raw == "" {
			continue
		}
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			errs = append(errs, models.FieldError{Field: field, Message: field + " must be YYYY-MM-DD", Code: models.CodeInvalid})
			continue
		}
		d := models.Date(day)
		*target = &d
	}

	var threshold *float64
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(v >= 0 && v <= 1) {
			errs = append(errs, models.FieldError{Field: "threshold", Message: "threshold must be within [0, 1]", Code: models.CodeOutOfRange})
		}
		threshold = &v
	}

	var window series.Window
	if wire != (models.Window{}) {
		var werrs []models.FieldError
		window, werrs = toWindow(wire)
		errs = append(errs, werrs...)
	}

	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid coverage request", errs)
		return
	}

	report, err := h.service.CoverageReport(r.Context(), city, pollutant, window, threshold)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	qualified := make(map[string]bool, len(report.Qualified))
	for _, code := range report.Qualified {
		qualified[code] = true
	}

	out := models.Coverage{
		City:      report.City,
		Pollutant: string(report.Pollutant),
		Threshold: report.Threshold,
		Qualified: report.Qualified,
		Stations:  make([]models.CoverageStat, len(report.Stats)),
	}
	for i, s := range report.Stats {
		out.Stations[i] = models.CoverageStat{
			Station:         s.Location,
			Present:         s.Present,
			Total:           s.Total,
			Ratio:           s.Ratio,
			PresentSmoothed: s.PresentSmoothed,
			RatioSmoothed:   s.RatioSmoothed,
			Qualified:       qualified[s.Location],
		}
	}
	response.JSON(w, r, http.StatusOK, out)
}
