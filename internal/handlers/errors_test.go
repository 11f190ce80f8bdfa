package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderzen/smart-import/internal/repositories"
	"tenderzen/smart-import/internal/services"
	"tenderzen/smart-import/internal/smartimport"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fiber error", fiber.NewError(fiber.StatusTeapot, "tea"), fiber.StatusTeapot},
		{"import not found", fmt.Errorf("find: %w", repositories.ErrImportNotFound), fiber.StatusNotFound},
		{"session not found", smartimport.ErrSessionNotFound, fiber.StatusNotFound},
		{"invalid input", fmt.Errorf("%w: too many files", services.ErrInvalidInput), fiber.StatusBadRequest},
		{"invalid state", services.ErrInvalidState, fiber.StatusBadRequest},
		{"invalid tenant", smartimport.ErrInvalidTenant, fiber.StatusBadRequest},
		{"unknown field", smartimport.ErrUnknownField, fiber.StatusBadRequest},
		{"coercion", errors.Join(&smartimport.CoercionError{Field: "geraamde_waarde", Value: "veel", Err: errors.New("nan")}), fiber.StatusUnprocessableEntity},
		{"already running", smartimport.ErrJobAlreadyRunning, fiber.StatusConflict},
		{"invalid transition", smartimport.ErrInvalidTransition, fiber.StatusConflict},
		{"session closed", smartimport.ErrSessionClosed, fiber.StatusGone},
		{"worker unavailable", services.ErrUnavailable, fiber.StatusServiceUnavailable},
		{"job failed", &smartimport.JobFailedError{Phase: smartimport.PhaseAnalysis, Message: "boom"}, fiber.StatusBadGateway},
		{"transport 4xx", &smartimport.TransportError{Op: "upload", StatusCode: 413, Err: errors.New("too large")}, 413},
		{"transport 5xx", &smartimport.TransportError{Op: "upload", StatusCode: 500, Err: errors.New("down")}, fiber.StatusBadGateway},
		{"transport no status", &smartimport.TransportError{Op: "upload", Err: io.ErrUnexpectedEOF}, fiber.StatusBadGateway},
		{"unknown", errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestErrorHandler_AddsRecoveryForFailedJobs(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/", func(c *fiber.Ctx) error {
		return &smartimport.JobFailedError{JobID: "job-1", Phase: smartimport.PhaseReanalysis, Message: "model overloaded"}
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "reanalysis job job-1 failed: model overloaded", body["error"])
	assert.Equal(t, float64(fiber.StatusBadGateway), body["code"])
	assert.Equal(t, string(smartimport.RecoverRetryReanalysis), body["recovery"])
}
