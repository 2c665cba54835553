package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openscribe/scribed/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
	}{
		{"validation error", services.NewValidationError("priority", "must be between 1 and 10"), http.StatusBadRequest},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("job abc: %w", services.ErrNotFound), http.StatusNotFound},
		{"already exists", services.ErrAlreadyExists, http.StatusConflict},
		{"precondition failed", services.ErrPreconditionFailed, http.StatusConflict},
		{"model missing", fmt.Errorf("no stt model configured: %w", services.ErrModelMissing), http.StatusPreconditionFailed},
		{"invalid input", services.ErrInvalidInput, http.StatusBadRequest},
		{"unexpected", fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := mapServiceError(tt.err)
			assert.Equal(t, tt.expectedCode, httpErr.Code)
		})
	}
}

func TestMapServiceErrorKeepsValidationMessage(t *testing.T) {
	err := services.NewValidationError("output_formats", "unsupported format \"docx\"")
	httpErr := mapServiceError(err)

	assert.Contains(t, fmt.Sprint(httpErr.Message), "output_formats")
	assert.Contains(t, fmt.Sprint(httpErr.Message), "docx")
}

func TestMapServiceErrorHidesInternalDetail(t *testing.T) {
	httpErr := mapServiceError(fmt.Errorf("pq: connection refused"))
	assert.Equal(t, "internal server error", httpErr.Message)
}
