package race

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"backend-karttracker/internal/circuit"
	"backend-karttracker/internal/history"
	"backend-karttracker/internal/kv"
	"backend-karttracker/internal/location"
	"backend-karttracker/internal/shared/geo"
	"backend-karttracker/internal/speed"
	"backend-karttracker/internal/tracking"

	"github.com/rs/zerolog"
)

type fixture struct {
	svc      *Service
	engine   *tracking.Engine
	registry *circuit.Registry
	history  *history.Store
	circuit  string
}

func north(lat float64) geo.Coordinate {
	return geo.Coordinate{Latitude: lat, Longitude: 0}
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	engine := tracking.NewEngine(tracking.DefaultThresholds(), zerolog.Nop())
	registry := circuit.NewRegistry(nil, circuit.Options{}, zerolog.Nop())
	store := history.NewStore(kv.NewMemoryStore(), "", zerolog.Nop())

	svc, err := NewService(engine, registry, store, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)

	ctx := context.Background()
	id, err := registry.CreateCircuit(ctx, "h1", "Interlagos")
	if err != nil {
		t.Fatalf("create circuit: %v", err)
	}
	registry.JoinCircuit(ctx, id, "r2")
	return fixture{svc: svc, engine: engine, registry: registry, history: store, circuit: id}
}

func quietOptions() Options {
	opts := DefaultOptions()
	opts.Tick = time.Hour
	return opts
}

func granted(c geo.Coordinate) location.Provider {
	return location.Granted(&c)
}

func (f fixture) runner(t *testing.T, id string) circuit.Runner {
	t.Helper()
	c, ok := f.registry.GetCircuit(f.circuit)
	if !ok {
		t.Fatalf("circuit missing")
	}
	r, ok := c.Runner(id)
	if !ok {
		t.Fatalf("runner %s missing", id)
	}
	return r
}

func TestStartRequiresPermission(t *testing.T) {
	f := newFixture(t, quietOptions())
	pos := north(0)

	_, err := f.svc.Start(context.Background(), f.circuit, "r2", location.Static{Permission: location.PermissionDenied, Position: &pos})
	if !errors.Is(err, location.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := f.svc.Start(context.Background(), f.circuit, "r2", nil); !errors.Is(err, location.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied without provider, got %v", err)
	}
	if f.engine.Active() != 0 || f.svc.Active() != 0 {
		t.Fatalf("tracking must not start without permission")
	}
}

func TestStartWithoutFix(t *testing.T) {
	f := newFixture(t, quietOptions())
	_, err := f.svc.Start(context.Background(), f.circuit, "r2", location.Granted(nil))
	if !errors.Is(err, location.ErrNoFix) {
		t.Fatalf("expected ErrNoFix, got %v", err)
	}
}

func TestStartUnknownCircuitOrRunner(t *testing.T) {
	f := newFixture(t, quietOptions())
	if _, err := f.svc.Start(context.Background(), "nope", "r2", granted(north(0))); !errors.Is(err, circuit.ErrCircuitNotFound) {
		t.Fatalf("expected ErrCircuitNotFound, got %v", err)
	}
	if _, err := f.svc.Start(context.Background(), f.circuit, "ghost", granted(north(0))); !errors.Is(err, circuit.ErrRunnerNotFound) {
		t.Fatalf("expected ErrRunnerNotFound, got %v", err)
	}
}

func TestRaceFlow(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()

	status, err := f.svc.Start(ctx, f.circuit, "r2", granted(north(0)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if status.Session.Lap != 1 || len(status.Session.Route) != 1 {
		t.Fatalf("unexpected initial session %+v", status.Session)
	}
	if loc := f.runner(t, "r2").Location; loc == nil || *loc != north(0) {
		t.Fatalf("expected start location on runner")
	}

	fast := 20.0
	update, err := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.001), SpeedMps: &fast})
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if update.SpeedKmh != 72 || math.Abs(update.DistanceM-111.19) > 0.5 || update.Lap != 1 {
		t.Fatalf("unexpected update %+v", update)
	}

	runner := f.runner(t, "r2")
	if runner.Speed != 72 || runner.DistanceM != update.DistanceM || *runner.Location != north(0.001) {
		t.Fatalf("registry not updated: %+v", runner)
	}

	slow := 10.0
	f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.002), SpeedMps: &slow})

	entry, err := f.svc.Finish(ctx, f.circuit, "r2")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if entry.ID == "" || entry.CircuitName != "Interlagos" || entry.TotalParticipants != 2 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Position != 1 {
		t.Fatalf("r2 covered the most distance and should lead, got %d", entry.Position)
	}
	if entry.MaxSpeed != 72 || entry.AvgSpeed != 54 || entry.Laps != 0 || len(entry.Route) != 3 {
		t.Fatalf("unexpected summary %+v", entry)
	}
	if entry.Duration != "00:00:00" {
		t.Fatalf("unexpected duration %s", entry.Duration)
	}

	if f.engine.Active() != 0 || f.svc.Active() != 0 {
		t.Fatalf("tracking should be cleared after finish")
	}
	if got := f.history.GetRaceByID(ctx, entry.ID); got == nil {
		t.Fatalf("entry not recorded")
	}
	if _, err := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.003)}); !errors.Is(err, ErrNotRacing) {
		t.Fatalf("expected ErrNotRacing after finish, got %v", err)
	}
	if _, err := f.svc.Finish(ctx, f.circuit, "r2"); !errors.Is(err, ErrNotRacing) {
		t.Fatalf("expected ErrNotRacing on second finish, got %v", err)
	}
}

func TestLapPropagatesToCircuit(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	if _, err := f.svc.Start(ctx, f.circuit, "r2", granted(north(0))); err != nil {
		t.Fatalf("start: %v", err)
	}

	var last Update
	for _, lat := range []float64{0.001, 0.002, 0.001, 0.0001} {
		u, err := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(lat)})
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		last = u
	}
	if !last.LapCompleted || last.Lap != 2 {
		t.Fatalf("expected lap 2 on return to start, got %+v", last)
	}
	if f.runner(t, "r2").Lap != 2 {
		t.Fatalf("registry lap not updated")
	}

	entry, err := f.svc.Finish(ctx, f.circuit, "r2")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if entry.Laps != 1 {
		t.Fatalf("expected one completed lap, got %d", entry.Laps)
	}
}

func TestSpeedDerivedFromPositions(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	f.svc.Start(ctx, f.circuit, "r2", granted(north(0)))

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	first, _ := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.0001), Timestamp: t0})
	if first.SpeedKmh != 0 {
		t.Fatalf("first sample without velocity should read 0, got %v", first.SpeedKmh)
	}
	second, _ := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.0011), Timestamp: t0.Add(10 * time.Second)})
	if math.Abs(second.SpeedKmh-40.0) > 0.11 {
		t.Fatalf("expected about 40 km/h, got %v", second.SpeedKmh)
	}
}

func TestWatchFilterSkipsBurstSamples(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	f.svc.Start(ctx, f.circuit, "r2", granted(north(0)))

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	first, _ := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.001), Timestamp: t0})
	burst, err := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.002), Timestamp: t0.Add(200 * time.Millisecond)})
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !burst.Skipped || burst.DistanceM != first.DistanceM {
		t.Fatalf("expected burst sample skipped, got %+v", burst)
	}
}

func TestClockPushesTimeToCircuit(t *testing.T) {
	opts := DefaultOptions()
	opts.Tick = 5 * time.Millisecond
	f := newFixture(t, opts)

	var notifications atomic.Int64
	unsubscribe := f.registry.SubscribeToUpdates(f.circuit, func(circuit.Circuit) { notifications.Add(1) })
	defer unsubscribe()

	if _, err := f.svc.Start(context.Background(), f.circuit, "r2", granted(north(0))); err != nil {
		t.Fatalf("start: %v", err)
	}
	base := notifications.Load()

	deadline := time.Now().Add(time.Second)
	for notifications.Load() < base+3 {
		if time.Now().After(deadline) {
			t.Fatalf("clock did not push time updates")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := f.svc.Finish(context.Background(), f.circuit, "r2"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if f.runner(t, "r2").Time != "00:00" {
		t.Fatalf("unexpected final time label %q", f.runner(t, "r2").Time)
	}
	settled := notifications.Load()
	time.Sleep(30 * time.Millisecond)
	if notifications.Load() != settled {
		t.Fatalf("time updates continued after finish")
	}
}

func TestRestartAndRacingElsewhere(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()

	f.svc.Start(ctx, f.circuit, "r2", granted(north(0)))
	f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0.001)})

	status, err := f.svc.Start(ctx, f.circuit, "r2", granted(north(0.005)))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if status.Session.DistanceM != 0 || status.Session.StartPosition != north(0.005) {
		t.Fatalf("restart should reset the session, got %+v", status.Session)
	}
	if f.svc.Active() != 1 {
		t.Fatalf("expected one active race, got %d", f.svc.Active())
	}

	other, _ := f.registry.CreateCircuit(ctx, "h9", "Granja Viana")
	f.registry.JoinCircuit(ctx, other, "r2")
	if _, err := f.svc.Start(ctx, other, "r2", granted(north(0))); !errors.Is(err, ErrRacingElsewhere) {
		t.Fatalf("expected ErrRacingElsewhere, got %v", err)
	}
	if _, err := f.svc.Status(other, "r2"); !errors.Is(err, ErrNotRacing) {
		t.Fatalf("expected ErrNotRacing for other circuit, got %v", err)
	}
}

type failingRecorder struct{}

func (failingRecorder) Save(context.Context, history.Entry) (history.Entry, error) {
	return history.Entry{}, errors.New("store down")
}

func TestFinishRecordFailureStillEndsRace(t *testing.T) {
	engine := tracking.NewEngine(tracking.DefaultThresholds(), zerolog.Nop())
	registry := circuit.NewRegistry(nil, circuit.Options{}, zerolog.Nop())
	svc, err := NewService(engine, registry, failingRecorder{}, quietOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	id, _ := registry.CreateCircuit(ctx, "h1", "x")
	svc.Start(ctx, id, "h1", granted(north(0)))

	entry, err := svc.Finish(ctx, id, "h1")
	if err == nil {
		t.Fatalf("expected record error")
	}
	if entry.CircuitName != "x" || svc.Active() != 0 || engine.Active() != 0 {
		t.Fatalf("race should end even when recording fails")
	}
}

func TestStopCircuit(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	f.svc.Start(ctx, f.circuit, "h1", granted(north(0)))
	f.svc.Start(ctx, f.circuit, "r2", granted(north(0)))

	if n := f.svc.StopCircuit(f.circuit); n != 2 {
		t.Fatalf("expected 2 stopped races, got %d", n)
	}
	if f.svc.Active() != 0 || f.engine.Active() != 0 {
		t.Fatalf("expected no active races")
	}
	if len(f.history.GetRaceHistory(ctx)) != 0 {
		t.Fatalf("stopped races must not be recorded")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Tick != time.Second || opts.Sampler.FloorKmh != speed.DefaultFloorKmh || opts.Watch.MinInterval != time.Second {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestStatusHeadingAndRegion(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, f.circuit, "r2", granted(north(0.001))); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.HandleSample(ctx, f.circuit, "r2", location.Sample{Coordinate: north(0)}); err != nil {
		t.Fatalf("sample: %v", err)
	}

	status, err := f.svc.Status(f.circuit, "r2")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if math.Abs(status.Heading-180) > 1e-6 {
		t.Fatalf("expected heading south, got %v", status.Heading)
	}
	if math.Abs(status.Region.Center.Latitude-0.0005) > 1e-9 || status.Region.LatitudeDelta != geo.DefaultRegionDelta {
		t.Fatalf("unexpected region %+v", status.Region)
	}
}
