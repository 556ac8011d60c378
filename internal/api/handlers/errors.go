package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/annotations"
	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/internal/importer"
	"github.com/opencoding/backend/internal/storage/sqlite"
	"github.com/opencoding/backend/pkg/logger"
)

// respondError maps a service error onto the HTTP taxonomy. Anything not
// recognized is logged and surfaced as a 500 with the underlying message
// as detail; acceptable for an internal tool.
func respondError(c *fiber.Ctx, err error) error {
	var validationErr *annotations.ValidationError
	var formatErr *importer.FormatError
	var missingErr *importer.MissingColumnsError

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return detail(c, fiber.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, auth.ErrInvalidSignature):
		return detail(c, fiber.StatusUnauthorized, "Invalid webhook signature")
	case errors.Is(err, sqlite.ErrNotFound):
		return detail(c, fiber.StatusNotFound, "Trace not found")
	case errors.Is(err, sqlite.ErrWriteFailed):
		return detail(c, fiber.StatusInternalServerError, "Failed to save annotation")
	case errors.Is(err, importer.ErrNotCSV):
		return detail(c, fiber.StatusBadRequest, "File must be a CSV")
	case errors.Is(err, importer.ErrTooLarge):
		return detail(c, fiber.StatusBadRequest, "File too large")
	case errors.As(err, &validationErr),
		errors.As(err, &formatErr),
		errors.As(err, &missingErr):
		return detail(c, fiber.StatusBadRequest, err.Error())
	default:
		logger.Error("Unhandled error", zap.Error(err), zap.String("path", c.Path()))
		return detail(c, fiber.StatusInternalServerError, err.Error())
	}
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}
