package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorImplementsError(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad input")
	assert.Equal(t, "bad input", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", err.ErrorCode)
}

func TestAsAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *APIError
	}{
		{name: "api error passes through", err: ErrValidationFailed, want: ErrValidationFailed},
		{name: "wrapped api error unwraps", err: fmt.Errorf("handler: %w", ErrLicenseRequired), want: ErrLicenseRequired},
		{name: "plain error masked as 500", err: fmt.Errorf("pq: connection refused"), want: ErrInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AsAPIError(tt.err))
		})
	}
}

func TestRenderErrorEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/license/status", nil)
	rec := httptest.NewRecorder()

	RenderError(rec, req, nil, ErrValidation("license_key", "license_key is required"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_FAILED", body.Error.ErrorCode)
}

func TestRenderErrorMasksInternalDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/license/status", nil)
	rec := httptest.NewRecorder()

	RenderError(rec, req, nil, fmt.Errorf("dial tcp 10.0.0.4:5432: timeout"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.4")
}
