package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/opencoding/backend/internal/annotations"
	"github.com/opencoding/backend/internal/middleware/identity"
	"github.com/opencoding/backend/internal/storage/sqlite"
)

type AnnotationHandler struct {
	service *annotations.Service
}

func NewAnnotationHandler(service *annotations.Service) *AnnotationHandler {
	return &AnnotationHandler{service: service}
}

// Save creates or fully replaces the caller's annotation for a trace.
func (h *AnnotationHandler) Save(c *fiber.Ctx) error {
	var req annotations.SaveRequest
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	caller := identity.FromContext(c)
	annotation, created, err := h.service.Save(c.Context(), &req, caller)
	if err != nil {
		return respondError(c, err)
	}

	message := "Annotation updated successfully"
	if created {
		message = "Annotation created successfully"
	}

	return c.JSON(fiber.Map{
		"message":    message,
		"annotation": annotation,
	})
}

// ForTrace returns the caller's annotation for a trace, or null when none
// exists; an unreviewed trace is not an error.
func (h *AnnotationHandler) ForTrace(c *fiber.Ctx) error {
	caller := identity.FromContext(c)

	annotation, err := h.service.ForTrace(c.Params("trace_id"), caller.UserID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.JSON(nil)
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(annotation)
}

func (h *AnnotationHandler) Stats(c *fiber.Ctx) error {
	caller := identity.FromContext(c)

	stats, err := h.service.Stats(c.Context(), caller.UserID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(stats)
}

// BulkImport replays exported annotation records, typically when moving
// local review work onto a shared deployment.
func (h *AnnotationHandler) BulkImport(c *fiber.Ctx) error {
	var records []annotations.BulkRecord
	if err := c.BodyParser(&records); err != nil {
		return detail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	caller := identity.FromContext(c)
	result, err := h.service.BulkImport(c.Context(), records, caller)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(result)
}
