package identity

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/pkg/logger"
)

const localsKey = "identity"

// Verifier resolves a bearer token to an identity. Tests substitute a
// fake; production wires *auth.Verifier.
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// RequireAuth rejects requests without a verifiable bearer token and
// stashes the resolved identity for handlers. There is no bypass path.
func RequireAuth(verifier Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"detail": "No authorization token provided",
			})
		}

		id, err := verifier.Verify(c.Context(), token)
		if err != nil {
			logger.Debug("Token rejected", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"detail": "Invalid or expired token",
			})
		}

		c.Locals(localsKey, id)
		return c.Next()
	}
}

// FromContext returns the identity stored by RequireAuth, or nil when the
// route was not guarded.
func FromContext(c *fiber.Ctx) *auth.Identity {
	id, _ := c.Locals(localsKey).(*auth.Identity)
	return id
}

func extractBearer(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
