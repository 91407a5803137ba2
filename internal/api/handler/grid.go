package handler

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/api/models"
	"github.com/aqfield/aqfield/internal/api/response"
	"github.com/aqfield/aqfield/internal/series"
	"github.com/aqfield/aqfield/internal/spatial"
	"github.com/aqfield/aqfield/internal/store"
	"github.com/aqfield/aqfield/pkg/polyline"
)

const maxRequestBody = 1 << 20

// GridHandler computes and serves interpolated grids.
type GridHandler struct {
	service *analysis.Service
	logger  zerolog.Logger
}

// NewGridHandler creates a new GridHandler.
func NewGridHandler(service *analysis.Service, logger zerolog.Logger) *GridHandler {
	return &GridHandler{service: service, logger: logger}
}

// ComputeGrid handles POST /v1/grids:compute.
func (h *GridHandler) ComputeGrid(w http.ResponseWriter, r *http.Request) {
	var body models.GridComputeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return
	}

	req, fieldErrors := toRequest(body)
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid grid request", fieldErrors)
		return
	}

	result, err := h.service.Run(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Created(w, r, "/v1/grids/"+result.RunID, fromResult(result))
}

// GetGrid handles GET /v1/grids/{runId}. With ?format=geojson the cells are
// returned as a GeoJSON FeatureCollection.
func (h *GridHandler) GetGrid(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if runID == "" {
		response.BadRequest(w, r, "runId is required", nil)
		return
	}

	record, err := h.service.GetGrid(r.Context(), runID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		response.JSON(w, r, http.StatusOK, fromRecord(record))
	case "geojson":
		grid := &spatial.Grid{CellSize: record.CellSize, Box: record.Box, Cells: record.Cells}
		response.GeoJSON(w, r, http.StatusOK, grid.FeatureCollection())
	default:
		response.BadRequest(w, r, "unsupported format", []models.FieldError{
			{Field: "format", Message: "format must be json or geojson", Code: models.CodeInvalid},
		})
	}
}

func toRequest(body models.GridComputeRequest) (analysis.Request, []models.FieldError) {
	var errs []models.FieldError
	invalid := func(field, msg, code string) {
		errs = append(errs, models.FieldError{Field: field, Message: msg, Code: code})
	}

	req := analysis.Request{
		City:              body.City,
		CoverageThreshold: body.CoverageThreshold,
		SmoothingWindow:   body.SmoothingWindow,
		CellSize:          body.CellSize,
		Smooth:            body.Smooth,
		MaskOutliers:      body.MaskOutliers,
	}

	if body.City == "" {
		invalid("city", "city is required", models.CodeRequired)
	}

	pollutant, err := airquality.ParsePollutant(body.Pollutant)
	if err != nil {
		errs = append(errs, pollutantError(body.Pollutant))
	}
	req.Pollutant = pollutant

	if body.Date == nil {
		invalid("date", "date is required", models.CodeRequired)
	} else {
		req.Date = body.Date.Time()
	}

	if req.Mode, err = airquality.ParseValueMode(body.Mode); err != nil {
		invalid("mode", "mode must be concentration or aqi", models.CodeInvalid)
	}
	if body.Aggregation != "" {
		if req.Agg, err = series.ParseAggFunc(body.Aggregation); err != nil {
			invalid("aggregation", "aggregation must be mean or median", models.CodeInvalid)
		}
	}

	if t := body.CoverageThreshold; t != nil && !(*t >= 0 && *t <= 1) {
		invalid("coverageThreshold", "coverageThreshold must be within [0, 1]", models.CodeOutOfRange)
	}
	if body.SmoothingWindow < 0 || body.SmoothingWindow > analysis.MaxSmoothingWindow {
		invalid("smoothingWindow", fmt.Sprintf("smoothingWindow must be within [0, %d]", analysis.MaxSmoothingWindow), models.CodeOutOfRange)
	}
	if body.CellSize < 0 {
		invalid("cellSize", "cellSize must be positive", models.CodeOutOfRange)
	}

	if body.Window != nil {
		window, werrs := toWindow(*body.Window)
		errs = append(errs, werrs...)
		req.Window = window
	}

	if body.Clip != "" {
		ring, err := polyline.DecodeRing(body.Clip)
		if err != nil {
			invalid("clip", err.Error(), models.CodeInvalid)
		} else {
			req.Clip = ring
		}
	}

	return req, errs
}

func toWindow(w models.Window) (series.Window, []models.FieldError) {
	var errs []models.FieldError

	if w.From != nil || w.To != nil {
		var rw series.RangeWindow
		if w.From != nil {
			rw.From = w.From.Time()
		}
		if w.To != nil {
			rw.To = w.To.Time()
		}
		if !rw.From.IsZero() && !rw.To.IsZero() && rw.To.Before(rw.From) {
			errs = append(errs, models.FieldError{Field: "window.to", Message: "window.to must not be before window.from", Code: models.CodeOutOfRange})
		}
		return rw, errs
	}

	for field, month := range map[string]int{"window.fromMonth": w.FromMonth, "window.toMonth": w.ToMonth} {
		if month < 0 || month > 12 {
			errs = append(errs, models.FieldError{Field: field, Message: "month must be within 1..12", Code: models.CodeOutOfRange})
		}
	}
	if w.FromYear != 0 && w.ToYear != 0 && w.ToYear < w.FromYear {
		errs = append(errs, models.FieldError{Field: "window.toYear", Message: "window.toYear must not be before window.fromYear", Code: models.CodeOutOfRange})
	}

	return series.MonthWindow{
		FromMonth: time.Month(w.FromMonth),
		ToMonth:   time.Month(w.ToMonth),
		FromYear:  w.FromYear,
		ToYear:    w.ToYear,
	}, errs
}

func fromResult(result *analysis.Result) models.Grid {
	grid := models.Grid{
		RunID:      result.RunID,
		City:       result.Request.City,
		Pollutant:  string(result.Request.Pollutant),
		Date:       models.Date(series.Day(result.Request.Date)),
		Mode:       string(result.Request.Mode),
		CellSize:   result.Grid.CellSize,
		Power:      result.Power,
		Metric:     string(result.Metric),
		Qualified:  result.Qualified,
		OutOfRange: result.OutOfRange,
		ComputedAt: models.Timestamp(result.ComputedAt),
		Cells:      cells(result.Grid.Cells),
	}
	if len(result.Grid.Cells) > 0 {
		grid.Box = box(result.Grid.Box)
	}
	for _, p := range result.Points {
		grid.Stations = append(grid.Stations, models.StationValue{
			Station: p.Location,
			Lat:     p.Lat,
			Lon:     p.Lon,
			Value:   p.Value,
		})
	}
	return grid
}

func fromRecord(record *store.GridRecord) models.Grid {
	grid := models.Grid{
		RunID:      record.RunID,
		City:       record.City,
		Pollutant:  string(record.Pollutant),
		Date:       models.Date(record.Date),
		Mode:       string(record.Mode),
		CellSize:   record.CellSize,
		Power:      record.Power,
		Metric:     string(record.Metric),
		Qualified:  record.Qualified,
		OutOfRange: record.OutOfRange,
		ComputedAt: models.Timestamp(record.ComputedAt),
		Cells:      cells(record.Cells),
	}
	if grid.Qualified == nil {
		grid.Qualified = []string{}
	}
	if len(record.Cells) > 0 {
		grid.Box = box(record.Box)
	}
	return grid
}

func cells(in []spatial.Cell) []models.Cell {
	out := make([]models.Cell, len(in))
	for i, c := range in {
		out[i] = models.Cell{Lat: c.Lat, Lon: c.Lon}
		if !math.IsNaN(c.Value) {
			v := c.Value
			out[i].Value = &v
		}
	}
	return out
}

func box(b spatial.BoundingBox) *models.BoundingBox {
	return &models.BoundingBox{MinLat: b.MinLat, MinLon: b.MinLon, MaxLat: b.MaxLat, MaxLon: b.MaxLon}
}
