package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/api/models"
	"github.com/aqfield/aqfield/internal/api/response"
)

// PollutantHandler serves pollutant metadata and AQI conversion.
type PollutantHandler struct {
	service *analysis.Service
	tables  *airquality.Tables
}

// NewPollutantHandler creates a new PollutantHandler.
func NewPollutantHandler(service *analysis.Service, tables *airquality.Tables) *PollutantHandler {
	if tables == nil {
		tables = airquality.DefaultTables()
	}
	return &PollutantHandler{service: service, tables: tables}
}

// ListPollutants handles GET /v1/pollutants.
func (h *PollutantHandler) ListPollutants(w http.ResponseWriter, r *http.Request) {
	list := models.PollutantList{Items: []models.Pollutant{}}

	for _, p := range airquality.AllPollutants() {
		meta, err := airquality.MetadataFor(p)
		if err != nil {
			continue
		}
		item := models.Pollutant{
			Code:           string(p),
			Unit:           meta.Unit,
			OutlierCeiling: meta.OutlierCeiling,
			ReferenceLimit: meta.ReferenceLimit,
		}
		if table, err := h.tables.Table(p); err == nil && !table.OpenEnded {
			maxIndex := int(table.MaxIndex())
			item.MaxIndex = &maxIndex
		}
		if _, err := airquality.IMECA(p, 0); err == nil {
			item.HasIMECA = true
		}
		list.Items = append(list.Items, item)
	}

	response.JSON(w, r, http.StatusOK, list)
}

// Convert handles GET /v1/convert?pollutant=CO&aqi=75.
func (h *PollutantHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var fieldErrors []models.FieldError

	pollutant, err := airquality.ParsePollutant(r.URL.Query().Get("pollutant"))
	if err != nil {
		fieldErrors = append(fieldErrors, pollutantError(r.URL.Query().Get("pollutant")))
	}

	rawAQI := r.URL.Query().Get("aqi")
	aqi, err := strconv.ParseFloat(rawAQI, 64)
	switch {
	case rawAQI == "":
		fieldErrors = append(fieldErrors, models.FieldError{Field: "aqi", Message: "aqi is required", Code: models.CodeRequired})
	case err != nil:
		fieldErrors = append(fieldErrors, models.FieldError{Field: "aqi", Message: "aqi must be a number", Code: models.CodeInvalid})
	}

	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid conversion request", fieldErrors)
		return
	}

	result, err := h.service.Convert(pollutant, aqi)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidRequest) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		response.InternalError(w, r, "conversion failed")
		return
	}

	out := models.Conversion{
		Pollutant:     string(result.Pollutant),
		AQI:           result.AQI,
		Concentration: result.Concentration,
		Unit:          result.Unit,
		InRange:       result.InRange,
		IMECA:         result.IMECA,
	}
	if result.IMECA != nil {
		out.Category = string(result.Category)
		out.Color = result.Category.Color()
	}
	response.JSON(w, r, http.StatusOK, out)
}

func pollutantError(raw string) models.FieldError {
	if raw == "" {
		return models.FieldError{Field: "pollutant", Message: "pollutant is required", Code: models.CodeRequired}
	}
	return models.FieldError{Field: "pollutant", Message: "unknown pollutant " + strconv.Quote(raw), Code: models.CodeInvalid}
}
