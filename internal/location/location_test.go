package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-karttracker/internal/shared/geo"
)

type failingProvider struct{}

func (failingProvider) RequestPermission(context.Context) (Permission, error) {
	return "", errors.New("prompt dismissed")
}

func (failingProvider) CurrentPosition(context.Context) (geo.Coordinate, error) {
	return geo.Coordinate{}, errors.New("no gps")
}

func TestRequireGranted(t *testing.T) {
	ctx := context.Background()
	pos := geo.Coordinate{Latitude: -23.5505, Longitude: -46.6333}

	if err := RequireGranted(ctx, Granted(&pos)); err != nil {
		t.Fatalf("expected grant, got %v", err)
	}
	if err := RequireGranted(ctx, Static{Permission: PermissionDenied}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial, got %v", err)
	}
	if err := RequireGranted(ctx, Static{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("empty permission must deny, got %v", err)
	}
	if err := RequireGranted(ctx, nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("nil provider must deny, got %v", err)
	}
	if err := RequireGranted(ctx, failingProvider{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("provider error must deny, got %v", err)
	}
}

func TestBestEffort(t *testing.T) {
	ctx := context.Background()
	pos := geo.Coordinate{Latitude: 1, Longitude: 2}

	if got := BestEffort(ctx, Granted(&pos)); got == nil || *got != pos {
		t.Fatalf("unexpected fix %v", got)
	}
	if BestEffort(ctx, Granted(nil)) != nil {
		t.Fatalf("expected nil without fix")
	}
	if BestEffort(ctx, nil) != nil {
		t.Fatalf("expected nil without provider")
	}
	if BestEffort(ctx, failingProvider{}) != nil {
		t.Fatalf("expected nil on provider error")
	}
}

func TestFilter(t *testing.T) {
	f := NewFilter(DefaultWatchOptions())
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	origin := geo.Coordinate{}

	if !f.Accept(Sample{Coordinate: origin, Timestamp: t0}) {
		t.Fatalf("first sample must pass")
	}
	if f.Accept(Sample{Coordinate: geo.Coordinate{Longitude: 0.001}, Timestamp: t0.Add(500 * time.Millisecond)}) {
		t.Fatalf("sample inside min interval must be dropped")
	}
	if f.Accept(Sample{Coordinate: geo.Coordinate{Longitude: 0.000001}, Timestamp: t0.Add(2 * time.Second)}) {
		t.Fatalf("sample under min displacement must be dropped")
	}
	if !f.Accept(Sample{Coordinate: geo.Coordinate{Longitude: 0.001}, Timestamp: t0.Add(2 * time.Second)}) {
		t.Fatalf("expected sample to pass")
	}
}
