package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqfield/aqfield/internal/api/models"
)

func TestProblem_Builders(t *testing.T) {
	p := models.NewProblem(models.ProblemTypeValidation, "Validation error", http.StatusBadRequest, "req_1").
		WithDetail("cellSize must be positive").
		WithInstance("/v1/grids:compute").
		WithErrors([]models.FieldError{{Field: "cellSize", Message: "must be positive", Code: models.CodeOutOfRange}})

	assert.Equal(t, "cellSize must be positive", p.Detail)
	assert.Equal(t, "/v1/grids:compute", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, models.CodeOutOfRange, p.Errors[0].Code)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_test123", "invalid input", []models.FieldError{
		{Field: "pollutant", Message: "unknown pollutant", Code: models.CodeInvalid},
	})
	p.Instance = "/v1/convert"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.ProblemTypeValidation, result.Type)
	assert.Equal(t, "invalid input", result.Detail)
	assert.Equal(t, "/v1/convert", result.Instance)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "pollutant", result.Errors[0].Field)
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		problem *models.Problem
		kind    string
		status  int
	}{
		{models.NewNotFound("r", "d"), models.ProblemTypeNotFound, http.StatusNotFound},
		{models.NewUnsupportedMediaType("r", "d"), models.ProblemTypeUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{models.NewTooManyRequests("r", "d"), models.ProblemTypeTooManyRequests, http.StatusTooManyRequests},
		{models.NewInternalError("r", "d"), models.ProblemTypeInternal, http.StatusInternalServerError},
		{models.NewServiceUnavailable("r", "d"), models.ProblemTypeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.problem.Type)
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, "d", tt.problem.Detail)
			assert.Equal(t, "r", tt.problem.TraceID)
		})
	}
}

func TestDate_JSON(t *testing.T) {
	var d models.Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-10"`), &d))
	assert.Equal(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), d.Time())

	require.NoError(t, json.Unmarshal([]byte(`"2024-03-10T23:30:00-06:00"`), &d))
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), d.Time())

	assert.Error(t, json.Unmarshal([]byte(`"10/03/2024"`), &d))

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-11"`, string(out))
}

func TestTimestamp_JSON(t *testing.T) {
	ts := models.Timestamp(time.Date(2024, time.March, 10, 12, 0, 0, 0, time.FixedZone("CST", -6*3600)))

	out, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-10T18:00:00Z"`, string(out))

	var back models.Timestamp
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, back.Time().Equal(ts.Time()))
}
