package httpapi

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/agro-weather/internal/weather"
)

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, weather.ErrInvalidCoordinates):
		return fiber.StatusBadRequest
	case errors.Is(err, weather.ErrLocationNotFound), errors.Is(err, weather.ErrProviderNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, weather.ErrProviderInactive):
		return fiber.StatusConflict
	case errors.Is(err, weather.ErrBatchTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, weather.ErrNoProviders):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, weather.ErrAllProvidersFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler is the centralized Fiber error handler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		msg = "internal server error"
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": msg,
	})
}
