package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tenderzen/smart-import/internal/repositories"
	"tenderzen/smart-import/internal/services"
	"tenderzen/smart-import/internal/smartimport"
)

// StatusCode maps service and engine errors to HTTP status codes.
func StatusCode(err error) int {
	var fe *fiber.Error
	var te *smartimport.TransportError
	var je *smartimport.JobFailedError
	var ce *smartimport.CoercionError

	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, repositories.ErrImportNotFound),
		errors.Is(err, smartimport.ErrSessionNotFound),
		errors.Is(err, smartimport.ErrFileNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidState),
		errors.Is(err, smartimport.ErrInvalidTenant),
		errors.Is(err, smartimport.ErrNoFiles),
		errors.Is(err, smartimport.ErrUnknownField):
		return fiber.StatusBadRequest
	case errors.As(err, &ce):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, smartimport.ErrJobAlreadyRunning),
		errors.Is(err, smartimport.ErrInvalidTransition),
		errors.Is(err, smartimport.ErrNoActiveJob),
		errors.Is(err, smartimport.ErrCancelled):
		return fiber.StatusConflict
	case errors.Is(err, smartimport.ErrSessionClosed):
		return fiber.StatusGone
	case errors.Is(err, services.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.As(err, &je):
		return fiber.StatusBadGateway
	case errors.As(err, &te):
		if te.StatusCode >= 400 && te.StatusCode < 500 {
			return te.StatusCode
		}
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders every error as {"error", "code"} plus a recovery hint when one applies.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := StatusCode(err)
	body := fiber.Map{
		"error": err.Error(),
		"code":  code,
	}

	var je *smartimport.JobFailedError
	if errors.As(err, &je) {
		body["recovery"] = je.Recovery()
	}

	return c.Status(code).JSON(body)
}
