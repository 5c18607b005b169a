package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-karttracker/internal/location"
	"backend-karttracker/internal/shared/geo"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

var (
	ErrCircuitNotFound = errors.New("circuit not found")
	ErrRunnerNotFound  = errors.New("runner not found in circuit")
	ErrLapRegression   = errors.New("lap cannot move backward")
	ErrInvalidMutation = errors.New("invalid runner mutation")
)

// IDLength is the size of generated circuit codes. They are typed by hand and
// embedded in QR payloads, so they stay short.
const IDLength = 8

type Options struct {
	AllowLapRegression bool
	// TTL removes circuits idle for longer than this on Expire. Zero keeps
	// circuits for the life of the process.
	TTL time.Duration
}

// EngineUpdater is the capability handed to the tracking pipeline.
type EngineUpdater interface {
	UpdateRunnerSpeed(circuitID, runnerID string, kmh float64) bool
	UpdateRunnerDistance(circuitID, runnerID string, meters float64) bool
	UpdateRunnerLap(circuitID, runnerID string, lap int) bool
	UpdateRunnerTime(circuitID, runnerID, label string) bool
	UpdateRunnerLocation(circuitID, runnerID string, loc geo.Coordinate) bool
	Apply(circuitID, runnerID string, m Mutation) (Circuit, error)
}

// OverrideUpdater is the audited capability for manual corrections that do
// not come from tracking.
type OverrideUpdater interface {
	Override(circuitID, runnerID string, m Mutation, actor string) (Circuit, error)
}

type Registry struct {
	mu       sync.RWMutex
	circuits map[string]*Circuit
	subs     map[string][]*subscription
	nextSub  uint64

	locator location.Provider
	opts    Options
	log     zerolog.Logger

	newID func() (string, error)
	now   func() time.Time
}

func NewRegistry(locator location.Provider, opts Options, log zerolog.Logger) *Registry {
	return &Registry{
		circuits: map[string]*Circuit{},
		subs:     map[string][]*subscription{},
		locator:  locator,
		opts:     opts,
		log:      log,
		newID:    func() (string, error) { return gonanoid.New(IDLength) },
		now:      time.Now,
	}
}

// CreateCircuit registers a circuit hosted by hostID and returns its code.
// The host position comes from the registry's locator when available.
func (r *Registry) CreateCircuit(ctx context.Context, hostID, name string) (string, error) {
	c, err := r.Create(ctx, hostID, name, r.locator)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// Create is CreateCircuit with a caller-supplied locator, returning the new
// circuit.
func (r *Registry) Create(ctx context.Context, hostID, name string, locator location.Provider) (Circuit, error) {
	loc := location.BestEffort(ctx, locator)
	if loc == nil {
		r.log.Debug().Str("host_id", hostID).Msg("host location unavailable")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.uniqueID()
	if err != nil {
		return Circuit{}, err
	}
	now := r.now()
	c := &Circuit{
		ID:        id,
		Name:      name,
		HostID:    hostID,
		Runners:   []Runner{newRunner(hostID, HostName, loc)},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	r.circuits[id] = c
	r.subs[id] = nil
	r.log.Info().Str("circuit_id", id).Str("host_id", hostID).Msg("circuit created")
	return c.clone(), nil
}

func (r *Registry) uniqueID() (string, error) {
	for i := 0; i < 5; i++ {
		id, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("generate circuit id: %w", err)
		}
		if _, exists := r.circuits[id]; !exists {
			return id, nil
		}
	}
	return "", errors.New("generate circuit id: too many collisions")
}

// JoinCircuit adds runnerID to the circuit. Joining twice is a no-op that
// still reports success; an unknown circuit reports false.
func (r *Registry) JoinCircuit(ctx context.Context, circuitID, runnerID string) bool {
	_, err := r.Join(ctx, circuitID, runnerID, r.locator)
	if err != nil {
		r.log.Warn().Err(err).Str("circuit_id", circuitID).Str("runner_id", runnerID).Msg("join failed")
		return false
	}
	return true
}

func (r *Registry) Join(ctx context.Context, circuitID, runnerID string, locator location.Provider) (Circuit, error) {
	r.mu.RLock()
	c, ok := r.circuits[circuitID]
	var existing bool
	var snap Circuit
	if ok {
		existing = c.runnerRef(runnerID) != nil
		snap = c.clone()
	}
	r.mu.RUnlock()
	if !ok {
		return Circuit{}, ErrCircuitNotFound
	}
	if existing {
		return snap, nil
	}

	loc := location.BestEffort(ctx, locator)

	r.mu.Lock()
	c, ok = r.circuits[circuitID]
	if !ok {
		r.mu.Unlock()
		return Circuit{}, ErrCircuitNotFound
	}
	if c.runnerRef(runnerID) != nil {
		snap = c.clone()
		r.mu.Unlock()
		return snap, nil
	}
	name := fmt.Sprintf("%s%d", runnerPrefix, len(c.Runners)+1)
	c.Runners = append(c.Runners, newRunner(runnerID, name, loc))
	snap, targets := r.touch(c)
	r.mu.Unlock()

	r.log.Info().Str("circuit_id", circuitID).Str("runner_id", runnerID).Str("name", name).Msg("runner joined")
	r.fanOut(snap, targets)
	return snap, nil
}

func (r *Registry) UpdateRunnerSpeed(circuitID, runnerID string, kmh float64) bool {
	return r.applyBool(circuitID, runnerID, SetSpeed(kmh))
}

func (r *Registry) UpdateRunnerDistance(circuitID, runnerID string, meters float64) bool {
	return r.applyBool(circuitID, runnerID, SetDistance(meters))
}

func (r *Registry) UpdateRunnerLap(circuitID, runnerID string, lap int) bool {
	return r.applyBool(circuitID, runnerID, SetLap(lap))
}

func (r *Registry) UpdateRunnerTime(circuitID, runnerID, label string) bool {
	return r.applyBool(circuitID, runnerID, SetTime(label))
}

func (r *Registry) UpdateRunnerLocation(circuitID, runnerID string, loc geo.Coordinate) bool {
	return r.applyBool(circuitID, runnerID, SetLocation(loc))
}

func (r *Registry) applyBool(circuitID, runnerID string, m Mutation) bool {
	if _, err := r.Apply(circuitID, runnerID, m); err != nil {
		r.log.Warn().Err(err).
			Str("circuit_id", circuitID).
			Str("runner_id", runnerID).
			Str("field", string(m.Field)).
			Msg("runner update rejected")
		return false
	}
	return true
}

// Apply sets one runner field and notifies listeners.
func (r *Registry) Apply(circuitID, runnerID string, m Mutation) (Circuit, error) {
	if err := m.validate(); err != nil {
		return Circuit{}, err
	}

	r.mu.Lock()
	c, ok := r.circuits[circuitID]
	if !ok {
		r.mu.Unlock()
		return Circuit{}, ErrCircuitNotFound
	}
	runner := c.runnerRef(runnerID)
	if runner == nil {
		r.mu.Unlock()
		return Circuit{}, ErrRunnerNotFound
	}
	if err := m.apply(runner, r.opts.AllowLapRegression); err != nil {
		r.mu.Unlock()
		return Circuit{}, err
	}
	snap, targets := r.touch(c)
	r.mu.Unlock()

	r.fanOut(snap, targets)
	return snap, nil
}

// Override applies a correction on behalf of actor and leaves an audit line.
func (r *Registry) Override(circuitID, runnerID string, m Mutation, actor string) (Circuit, error) {
	c, err := r.Apply(circuitID, runnerID, m)
	evt := r.log.Info()
	if err != nil {
		evt = r.log.Warn().Err(err)
	}
	evt.Str("audit", "override").
		Str("actor", actor).
		Str("circuit_id", circuitID).
		Str("runner_id", runnerID).
		Str("field", string(m.Field)).
		Msg("runner override")
	return c, err
}

// touch bumps the circuit revision and captures what to deliver. Callers
// hold r.mu.
func (r *Registry) touch(c *Circuit) (Circuit, []*subscription) {
	c.Version++
	c.UpdatedAt = r.now()
	targets := append([]*subscription(nil), r.subs[c.ID]...)
	return c.clone(), targets
}

// GetCircuit returns a copy of the circuit.
func (r *Registry) GetCircuit(circuitID string) (Circuit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.circuits[circuitID]
	if !ok {
		return Circuit{}, false
	}
	return c.clone(), true
}

// GetAllCircuits returns copies ordered by creation time.
func (r *Registry) GetAllCircuits() []Circuit {
	r.mu.RLock()
	out := make([]Circuit, 0, len(r.circuits))
	for _, c := range r.circuits {
		out = append(out, c.clone())
	}
	r.mu.RUnlock()
	sortByCreation(out)
	return out
}
