package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/internal/directory"
	"github.com/opencoding/backend/internal/middleware/identity"
	"github.com/opencoding/backend/pkg/logger"
)

type AuthHandler struct {
	directory     *directory.Service
	webhookSecret string
}

func NewAuthHandler(dir *directory.Service, webhookSecret string) *AuthHandler {
	return &AuthHandler{directory: dir, webhookSecret: webhookSecret}
}

// Me resolves the caller's token to a local user record, creating the
// mirror row lazily when the provider webhook has not arrived yet.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	caller := identity.FromContext(c)

	user, err := h.directory.EnsureUser(caller)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(user)
}

// Webhook ingests identity-provider events. The payload is only trusted
// after its signature verifies against the shared secret.
func (h *AuthHandler) Webhook(c *fiber.Ctx) error {
	payload := c.Body()

	err := auth.VerifyWebhookSignature(
		h.webhookSecret,
		c.Get("svix-id"),
		c.Get("svix-timestamp"),
		c.Get("svix-signature"),
		payload,
	)
	if err != nil {
		logger.Warn("Webhook signature rejected", zap.Error(err))
		return respondError(c, err)
	}

	var event directory.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return detail(c, fiber.StatusBadRequest, "Malformed event payload")
	}

	if err := h.directory.HandleEvent(&event); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"status": "success"})
}
