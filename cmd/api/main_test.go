package main

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestJSONErrorHandlerBodyLimit(t *testing.T) {
	app := fiber.New(fiber.Config{
		BodyLimit:    16,
		ErrorHandler: jsonErrorHandler,
	})
	app.Post("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(fiber.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "text/plain")

	res, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if res.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
		t.Fatalf("expected a JSON error response, got %s", ct)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading response failed: %v", err)
	}
	res.Body.Close()

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, raw)
	}
	if body["detail"] == nil {
		t.Fatalf("expected a detail message, got %s", raw)
	}
}

func TestJSONErrorHandlerUnknownRoute(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: jsonErrorHandler})

	res, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/nope", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if res.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading response failed: %v", err)
	}
	res.Body.Close()

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, raw)
	}
	if body["detail"] == nil {
		t.Fatalf("expected a detail message, got %s", raw)
	}
}
