package errors

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// RenderError writes err to the response as a structured error envelope.
// Non-APIError values are masked behind a generic 500 so internal details
// never leak to the client.
func RenderError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apiErr := AsAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", apiErr.StatusCode),
			slog.String("error", err.Error()),
		)
	}
	if renderErr := render.Render(w, r, NewErrorResponse(apiErr)); renderErr != nil {
		http.Error(w, apiErr.Message, apiErr.StatusCode)
	}
}

// AsAPIError converts any error into an APIError, defaulting to a generic
// internal server error.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternalServer
}
