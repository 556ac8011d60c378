package ratelimit

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/internal/middleware/identity"
	"github.com/opencoding/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func newLimitedApp(t *testing.T, maxPerMinute int) *fiber.App {
	t.Helper()

	limiter := New(Config{
		MaxRequestsPerMinute: maxPerMinute,
		WindowDuration:       time.Minute,
	})
	t.Cleanup(limiter.Stop)

	app := fiber.New()
	app.Use(limiter.Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRateLimitAllowsWithinBudget(t *testing.T) {
	app := newLimitedApp(t, 5)

	for i := 0; i < 5; i++ {
		res, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if res.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, res.StatusCode)
		}
	}
}

// tokenVerifier resolves any bearer token to an identity of the same name.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	return &auth.Identity{UserID: token}, nil
}

// The limiter runs after authentication in the route chain, so evaluators
// behind one address each get their own bucket.
func TestRateLimitKeysByIdentity(t *testing.T) {
	limiter := New(Config{
		MaxRequestsPerMinute: 2,
		WindowDuration:       time.Minute,
	})
	t.Cleanup(limiter.Stop)

	app := fiber.New()
	app.Get("/", identity.RequireAuth(tokenVerifier{}), limiter.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	request := func(user string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+user)
		res, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("request as %s failed: %v", user, err)
		}
		return res.StatusCode
	}

	for i := 0; i < 2; i++ {
		if code := request("user_a"); code != fiber.StatusOK {
			t.Fatalf("user_a request %d: expected 200, got %d", i, code)
		}
	}
	if code := request("user_a"); code != fiber.StatusTooManyRequests {
		t.Fatalf("user_a over budget: expected 429, got %d", code)
	}

	// Same source address, different identity: separate bucket.
	if code := request("user_b"); code != fiber.StatusOK {
		t.Fatalf("user_b must not share user_a's bucket: expected 200, got %d", code)
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	app := newLimitedApp(t, 2)

	var last int
	for i := 0; i < 3; i++ {
		res, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		last = res.StatusCode
	}

	if last != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 once the budget is spent, got %d", last)
	}
}
