package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorHandler maps unhandled errors to JSON responses. Server-side failures
// log the real error but answer with a generic message; database and broker
// details stay out of API responses.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if requestID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); requestID != "" {
			fields = append(fields, zap.String("correlationId", requestID))
		}
		logger.Error("request error", fields...)

		message := err.Error()
		if code >= fiber.StatusInternalServerError {
			message = "internal server error"
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
