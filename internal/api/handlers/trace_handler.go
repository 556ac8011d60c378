package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/middleware/identity"
	"github.com/opencoding/backend/internal/traces"
	"github.com/opencoding/backend/pkg/logger"
)

type TraceHandler struct {
	service *traces.Service
}

func NewTraceHandler(service *traces.Service) *TraceHandler {
	return &TraceHandler{service: service}
}

// ImportCSV accepts a multipart .csv upload and reports how many rows
// were imported, skipped as duplicates, or rejected.
func (h *TraceHandler) ImportCSV(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return detail(c, fiber.StatusBadRequest, "Multipart file field 'file' is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return respondError(c, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return respondError(c, err)
	}

	caller := identity.FromContext(c)
	summary, err := h.service.ImportCSV(fileHeader.Filename, data, caller.UserID)
	if err != nil {
		logger.Error("CSV import failed", zap.Error(err), zap.String("filename", fileHeader.Filename))
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "CSV import completed",
		"imported": summary.Imported,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"total":    summary.Total,
	})
}

func (h *TraceHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 0)

	result, err := h.service.List(page, pageSize)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(result)
}

func (h *TraceHandler) Get(c *fiber.Ctx) error {
	trace, err := h.service.Get(c.Params("trace_id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(trace)
}

func (h *TraceHandler) Adjacent(c *fiber.Ctx) error {
	adjacent, err := h.service.Adjacent(c.Params("trace_id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(adjacent)
}

// NextUnannotated returns the first trace the caller has not reviewed,
// or a null trace_id once everything is annotated.
func (h *TraceHandler) NextUnannotated(c *fiber.Ctx) error {
	caller := identity.FromContext(c)

	traceID, err := h.service.NextUnannotated(caller.UserID)
	if err != nil {
		return respondError(c, err)
	}

	if traceID == "" {
		return c.JSON(fiber.Map{"trace_id": nil})
	}
	return c.JSON(fiber.Map{"trace_id": traceID})
}
