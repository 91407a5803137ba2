package handler

import (
	"math"
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

// ChangeHandler reports year-over-year changes.
type ChangeHandler struct {
	service *analysis.Service
	logger  zerolog.Logger
}

// NewChangeHandler creates a new ChangeHandler.
func NewChangeHandler(service *analysis.Service, logger zerolog.Logger) *ChangeHandler {
	return &ChangeHandler{service: service, logger: logger}
}

// GetChange handles GET /v1/change?city=&pollutant=&date=&aggregation=&maskOutliers=.
func (h *ChangeHandler) GetChange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs []models.FieldError

	req := analysis.ChangeRequest{City: q.Get("city")}
	if req.City == "" {
		errs = append(errs, models.FieldError{Field: "city", Message: "city is required", Code: models.CodeRequired})
	}

	pollutant, err := airquality.ParsePollutant(q.Get("pollutant"))
	if err != nil {
		errs = append(errs, pollutantError(q.Get("pollutant")))
	}
	req.Pollutant = pollutant

	switch raw := q.Get("date"); raw {
	case "":
		errs = append(errs, models.FieldError{Field: "date", Message: "date is required", Code: models.CodeRequired})
	default:
		req.Date, err = time.Parse(time.DateOnly, raw)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "date", Message: "date must be YYYY-MM-DD", Code: models.CodeInvalid})
		}
	}

	if raw := q.Get("aggregation"); raw != "" {
		req.Agg, err = series.ParseAggFunc(raw)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "aggregation", Message: err.Error(), Code: models.CodeInvalid})
		}
	}

	if raw := q.Get("maskOutliers"); raw != "" {
		req.MaskOutliers, err = strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "maskOutliers", Message: "maskOutliers must be a boolean", Code: models.CodeInvalid})
		}
	}

	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid change request", errs)
		return
	}

	report, err := h.service.YearOverYear(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := models.Change{
		City:      report.City,
		Pollutant: string(report.Pollutant),
		Date:      models.Date(report.Date),
		Prior:     models.Date(report.Prior),
		Stations:  make([]models.StationChange, len(report.Stations)),
	}
	for i, s := range report.Stations {
		out.Stations[i] = models.StationChange{
			Station:  s.Station,
			Current:  present(s.Current),
			Previous: present(s.Previous),
			Change:   present(s.Change),
		}
	}
	response.JSON(w, r, http.StatusOK, out)
}

func present(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
