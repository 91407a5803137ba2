package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/api/response"
	"github.com/aqfield/aqfield/internal/store"
)

// writeError maps service errors to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidRequest):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, store.ErrGridNotFound):
		response.NotFound(w, r, "grid not found")
	case errors.Is(err, store.ErrStoreUnavailable), errors.Is(err, airquality.ErrStationsUnavailable):
		response.ServiceUnavailable(w, r, "data store is temporarily unavailable")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		response.InternalError(w, r, "request failed")
	}
}
