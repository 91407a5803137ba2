package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqfield/aqfield/internal/api/middleware"
	"github.com/aqfield/aqfield/internal/api/models"
	"github.com/aqfield/aqfield/internal/api/response"
)

func request(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, http.NoBody)
	return req.WithContext(middleware.WithRequestID(req.Context(), "req_test"))
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, request(http.MethodGet, "/v1/pollutants"), http.StatusOK, map[string]string{"code": "CO"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req_test", rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{"code":"CO"}`, rec.Body.String())
}

func TestJSON_NilDataWithoutRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), http.StatusOK, nil)

	assert.Empty(t, rec.Header().Get("X-Request-Id"))
	assert.Empty(t, rec.Body.String())
}

func TestGeoJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	response.GeoJSON(rec, request(http.MethodGet, "/v1/grids/x"), http.StatusOK, map[string]string{"type": "FeatureCollection"})

	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
}

func TestCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Created(rec, request(http.MethodPost, "/v1/grids:compute"), "/v1/grids/abc", map[string]string{"runId": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/v1/grids/abc", rec.Header().Get("Location"))
	assert.Equal(t, "req_test", rec.Header().Get("X-Request-Id"))
}

func TestProblems(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request)
		status int
		kind   string
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			response.BadRequest(w, r, "invalid", []models.FieldError{{Field: "aqi", Message: "required"}})
		}, http.StatusBadRequest, models.ProblemTypeValidation},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			response.NotFound(w, r, "grid not found")
		}, http.StatusNotFound, models.ProblemTypeNotFound},
		{"internal", func(w http.ResponseWriter, r *http.Request) {
			response.InternalError(w, r, "failed")
		}, http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) {
			response.ServiceUnavailable(w, r, "store unavailable")
		}, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, request(http.MethodGet, "/v1/grids/abc"))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var problem models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tt.kind, problem.Type)
			assert.Equal(t, "/v1/grids/abc", problem.Instance)
			assert.Equal(t, "req_test", problem.TraceID)
		})
	}
}

func TestServiceUnavailable_RetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	response.ServiceUnavailable(rec, request(http.MethodGet, "/v1/ops/ready"), "down")
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}
