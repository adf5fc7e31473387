package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RequestLogging logs one structured line per request: method, path, status,
// duration and the authenticated user when present. The /metrics scrape is
// skipped to keep the log readable.
func RequestLogging(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" || c.Path() == "/health" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		fields := logrus.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   status,
			"duration": time.Since(start).String(),
			"ip":       c.IP(),
		}
		if userID := c.Locals("user_id"); userID != nil {
			fields["user_id"] = userID
		}

		entry := logger.WithFields(fields)
		switch {
		case err != nil || status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
		return err
	}
}
