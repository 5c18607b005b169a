// Package race runs a runner's race: it feeds position samples through the
// speed sampler and tracking engine, mirrors the results onto the circuit,
// and records the summary when the runner finishes.
package race

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-karttracker/internal/circuit"
	"backend-karttracker/internal/history"
	"backend-karttracker/internal/location"
	"backend-karttracker/internal/shared/geo"
	"backend-karttracker/internal/speed"
	"backend-karttracker/internal/tracking"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNotRacing       = errors.New("runner is not racing")
	ErrRacingElsewhere = errors.New("runner is racing in another circuit")
)

// Circuits is the registry surface a race writes to.
type Circuits interface {
	circuit.EngineUpdater
	GetCircuit(circuitID string) (circuit.Circuit, bool)
}

// Recorder persists finished races.
type Recorder interface {
	Save(ctx context.Context, e history.Entry) (history.Entry, error)
}

// regionPadding widens the map region around the route on each side.
const regionPadding = 0.2

type Options struct {
	Sampler speed.Sampler
	Watch   location.WatchOptions
	// Tick is how often the runner's time label is pushed to the circuit.
	Tick time.Duration
	// Meter receives the race metrics. Nil uses the global provider.
	Meter metric.MeterProvider
}

func DefaultOptions() Options {
	return Options{
		Sampler: speed.NewSampler(speed.DefaultFloorKmh),
		Watch:   location.DefaultWatchOptions(),
		Tick:    time.Second,
	}
}

// Status is what a runner sees after starting or on demand.
type Status struct {
	CircuitID string           `json:"circuitId"`
	RunnerID  string           `json:"runnerId"`
	Elapsed   string           `json:"elapsed"`
	Session   tracking.Session `json:"session"`
	// Heading orients the runner marker along the last route segment.
	Heading float64    `json:"heading"`
	Region  geo.Region `json:"region"`
}

// Update is the outcome of one position sample.
type Update struct {
	SpeedKmh     float64 `json:"speed"`
	DistanceM    float64 `json:"distance"`
	Lap          int     `json:"lap"`
	LapCompleted bool    `json:"lapCompleted"`
	// Skipped is set when the sample arrived faster or closer than the
	// watch options allow and was ignored.
	Skipped bool `json:"skipped,omitempty"`
}

type runnerRace struct {
	mu        sync.Mutex
	circuitID string
	runnerID  string
	clock     *Clock
	stats     speed.Stats
	filter    *location.Filter
	last      *location.Sample
	lap       int
}

type Service struct {
	engine   *tracking.Engine
	circuits Circuits
	history  Recorder
	opts     Options
	log      zerolog.Logger
	metrics  metrics

	mu    sync.Mutex
	races map[string]*runnerRace
}

func NewService(engine *tracking.Engine, circuits Circuits, recorder Recorder, opts Options, log zerolog.Logger) (*Service, error) {
	s := &Service{
		engine:   engine,
		circuits: circuits,
		history:  recorder,
		opts:     opts,
		log:      log.With().Str("component", "race").Logger(),
		races:    map[string]*runnerRace{},
	}
	m, err := newMetrics(opts.Meter, s.Active)
	if err != nil {
		return nil, err
	}
	s.metrics = m
	return s, nil
}

// Start begins tracking runnerID in circuitID at the locator's current fix.
// Tracking never starts without a granted location permission. Starting a
// runner that is already racing in the same circuit restarts the race.
func (s *Service) Start(ctx context.Context, circuitID, runnerID string, locator location.Provider) (Status, error) {
	c, ok := s.circuits.GetCircuit(circuitID)
	if !ok {
		return Status{}, circuit.ErrCircuitNotFound
	}
	if _, ok := c.Runner(runnerID); !ok {
		return Status{}, circuit.ErrRunnerNotFound
	}
	if err := location.RequireGranted(ctx, locator); err != nil {
		s.log.Warn().Str("circuit_id", circuitID).Str("runner_id", runnerID).Msg("location permission denied")
		return Status{}, err
	}
	pos, err := locator.CurrentPosition(ctx)
	if err != nil {
		if !errors.Is(err, location.ErrNoFix) {
			err = fmt.Errorf("%w: %w", location.ErrNoFix, err)
		}
		return Status{}, err
	}

	s.mu.Lock()
	prev, restarting := s.races[runnerID]
	if restarting && prev.circuitID != circuitID {
		s.mu.Unlock()
		return Status{}, ErrRacingElsewhere
	}
	r := &runnerRace{
		circuitID: circuitID,
		runnerID:  runnerID,
		filter:    location.NewFilter(s.opts.Watch),
		lap:       1,
	}
	r.clock = NewClock(s.opts.Tick, func(elapsed time.Duration) {
		s.circuits.UpdateRunnerTime(circuitID, runnerID, FormatLap(elapsed))
	})
	s.engine.InitializeTracking(runnerID, pos)
	s.races[runnerID] = r
	s.mu.Unlock()

	if restarting {
		prev.clock.Stop()
	}
	s.circuits.UpdateRunnerLocation(circuitID, runnerID, pos)
	r.clock.Start()

	s.log.Info().Str("circuit_id", circuitID).Str("runner_id", runnerID).
		Float64("lat", pos.Latitude).Float64("lng", pos.Longitude).
		Msg("race started")
	return s.status(r)
}

// HandleSample applies one position sample. Samples for a runner are
// serialised in arrival order.
func (s *Service) HandleSample(ctx context.Context, circuitID, runnerID string, sample location.Sample) (Update, error) {
	r, err := s.race(circuitID, runnerID)
	if err != nil {
		return Update{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filter.Accept(sample) {
		snap, _ := s.engine.Snapshot(runnerID)
		return Update{DistanceM: snap.DistanceM, Lap: snap.Lap, Skipped: true}, nil
	}

	speedMs := sample.SpeedMps
	if speedMs == nil && r.last != nil && !sample.Timestamp.IsZero() && !r.last.Timestamp.IsZero() {
		speedMs = speed.FromPositions(r.last.Coordinate, sample.Coordinate, sample.Timestamp.Sub(r.last.Timestamp))
	}
	kmh := s.opts.Sampler.ToDisplaySpeedKmh(speedMs)
	last := sample
	r.last = &last

	res, err := s.engine.Update(runnerID, sample.Coordinate)
	if err != nil {
		return Update{}, ErrNotRacing
	}
	r.stats.Add(kmh)

	s.circuits.UpdateRunnerLocation(circuitID, runnerID, sample.Coordinate)
	s.circuits.UpdateRunnerSpeed(circuitID, runnerID, kmh)
	s.circuits.UpdateRunnerDistance(circuitID, runnerID, res.DistanceM)
	if res.Lap != r.lap {
		s.circuits.UpdateRunnerLap(circuitID, runnerID, res.Lap)
		r.lap = res.Lap
	}

	attrs := circuitAttr(circuitID)
	s.metrics.samples.Add(ctx, 1, attrs)
	if res.LapCompleted {
		s.metrics.laps.Add(ctx, 1, attrs)
		s.log.Info().Str("circuit_id", circuitID).Str("runner_id", runnerID).
			Int("lap", res.Lap).Float64("distance_m", res.DistanceM).
			Msg("lap completed")
	}

	return Update{
		SpeedKmh:     kmh,
		DistanceM:    res.DistanceM,
		Lap:          res.Lap,
		LapCompleted: res.LapCompleted,
	}, nil
}

// Finish stops the runner's clock, records the race and clears tracking.
// The race is ended even when recording fails; the entry is still returned
// with the error.
func (s *Service) Finish(ctx context.Context, circuitID, runnerID string) (history.Entry, error) {
	r, err := s.race(circuitID, runnerID)
	if err != nil {
		return history.Entry{}, err
	}

	s.mu.Lock()
	if s.races[runnerID] != r {
		s.mu.Unlock()
		return history.Entry{}, ErrNotRacing
	}
	delete(s.races, runnerID)
	s.mu.Unlock()

	elapsed := r.clock.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	session, _ := s.engine.Snapshot(runnerID)
	s.engine.ClearTracking(runnerID)
	s.circuits.UpdateRunnerTime(circuitID, runnerID, FormatLap(elapsed))

	entry := history.Entry{
		Duration: FormatElapsed(elapsed),
		Distance: session.DistanceM,
		MaxSpeed: r.stats.Max(),
		AvgSpeed: r.stats.Avg(),
		Laps:     session.Lap - 1,
		Route:    session.Route,
	}
	if entry.Laps < 0 {
		entry.Laps = 0
	}
	if c, ok := s.circuits.GetCircuit(circuitID); ok {
		entry.CircuitName = c.Name
		entry.Position = circuit.Position(c, runnerID)
		entry.TotalParticipants = len(c.Runners)
	}

	saved, err := s.history.Save(ctx, entry)
	if err != nil {
		s.log.Error().Err(err).Str("circuit_id", circuitID).Str("runner_id", runnerID).Msg("record race failed")
		return entry, err
	}
	s.metrics.finished.Add(ctx, 1, circuitAttr(circuitID))
	s.log.Info().Str("circuit_id", circuitID).Str("runner_id", runnerID).
		Str("race_id", saved.ID).Str("duration", saved.Duration).
		Msg("race finished")
	return saved, nil
}

// Status reports the live session of a racing runner.
func (s *Service) Status(circuitID, runnerID string) (Status, error) {
	r, err := s.race(circuitID, runnerID)
	if err != nil {
		return Status{}, err
	}
	return s.status(r)
}

// StopCircuit halts every race in the circuit without recording them, for
// circuit teardown.
func (s *Service) StopCircuit(circuitID string) int {
	s.mu.Lock()
	var stopped []*runnerRace
	for id, r := range s.races {
		if r.circuitID == circuitID {
			stopped = append(stopped, r)
			delete(s.races, id)
		}
	}
	s.mu.Unlock()

	for _, r := range stopped {
		r.clock.Stop()
		s.engine.ClearTracking(r.runnerID)
	}
	return len(stopped)
}

// Active is the number of runners currently racing.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.races)
}

// Close stops every clock. Races are not recorded.
func (s *Service) Close() {
	s.mu.Lock()
	races := s.races
	s.races = map[string]*runnerRace{}
	s.mu.Unlock()
	for _, r := range races {
		r.clock.Stop()
		s.engine.ClearTracking(r.runnerID)
	}
}

func (s *Service) race(circuitID, runnerID string) (*runnerRace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[runnerID]
	if !ok || r.circuitID != circuitID {
		return nil, ErrNotRacing
	}
	return r, nil
}

func (s *Service) status(r *runnerRace) (Status, error) {
	session, ok := s.engine.Snapshot(r.runnerID)
	if !ok {
		return Status{}, ErrNotRacing
	}
	return Status{
		CircuitID: r.circuitID,
		RunnerID:  r.runnerID,
		Elapsed:   FormatElapsed(r.clock.Elapsed()),
		Session:   session,
		Heading:   geo.RouteBearing(session.Route),
		Region:    geo.RegionFor(session.Route, regionPadding),
	}, nil
}
