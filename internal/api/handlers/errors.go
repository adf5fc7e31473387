package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/recall/recall-backend/internal/chat"
	"github.com/recall/recall-backend/internal/gateway"
)

// errorResponse maps engine errors onto HTTP statuses. Backend failures get
// 502 so callers can tell them apart from their own bad requests.
func errorResponse(c *fiber.Ctx, err error) error {
	var (
		validationErr *chat.ValidationError
		notFoundErr   *chat.NotFoundError
		rateLimitErr  *chat.RateLimitError
		backendErr    *gateway.BackendError
	)

	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr.Error()})
	case errors.As(err, &notFoundErr):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": notFoundErr.Error()})
	case errors.As(err, &rateLimitErr):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": rateLimitErr.Error()})
	case errors.As(err, &backendErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": backendErr.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
