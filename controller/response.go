package controller

import (
	"errors"
	"log/slog"

	"messenger-core/messenger"
	"messenger-core/storage"

	"github.com/gofiber/fiber/v2"
)

// Status maps a messenger error onto its HTTP status and a client safe message.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, messenger.ErrValidation):
		return fiber.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, messenger.ErrInvalidParticipant):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, messenger.ErrForbidden):
		return fiber.StatusForbidden, "Forbidden"
	case errors.Is(err, messenger.ErrNotFound):
		return fiber.StatusNotFound, "Not found"
	case errors.Is(err, messenger.ErrAlreadyMember), errors.Is(err, messenger.ErrConflict):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, messenger.ErrTimeout):
		return fiber.StatusGatewayTimeout, "Store timeout"
	case errors.Is(err, storage.ErrTooLarge):
		return fiber.StatusRequestEntityTooLarge, err.Error()
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

func fail(c *fiber.Ctx, log *slog.Logger, err error) error {
	status, message := Status(err)
	if status == fiber.StatusInternalServerError {
		log.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}

func badInput(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"message": "Review your input",
		"data":    nil,
	})
}

func success(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func page(data any, next *messenger.Page) fiber.Map {
	return fiber.Map{
		"items": data,
		"next":  next,
	}
}
