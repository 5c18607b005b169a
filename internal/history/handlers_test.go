package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-karttracker/internal/kv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

func TestHistoryHandlers(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), "", zerolog.Nop())
	store.SaveRace(context.Background(), sampleEntry("race-1"))

	app := fiber.New()
	RegisterRoutes(app.Group("/history"), store, func(c *fiber.Ctx) error { return c.Next() })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/history/", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %v", err)
	}
	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil || len(entries) != 1 {
		t.Fatalf("unexpected list body: %v %v", entries, err)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/history/race-1", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: %v", err)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/history/race-1/route", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("route status: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/history/nope", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/history/nope/route", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for route, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/history/", nil))
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status: %v", err)
	}
	if len(store.GetRaceHistory(context.Background())) != 0 {
		t.Fatalf("expected history cleared")
	}
}

func TestHistoryHandlersReadError(t *testing.T) {
	store := NewStore(&failingKV{getErr: errIO}, "", zerolog.Nop())
	app := fiber.New()
	RegisterRoutes(app.Group("/history"), store, func(c *fiber.Ctx) error { return c.Next() })

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/history/", nil))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/history/a", nil))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
