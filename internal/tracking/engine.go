package tracking

import (
	"errors"
	"sync"

	"backend-karttracker/internal/shared/geo"

	"github.com/rs/zerolog"
)

var ErrSessionNotFound = errors.New("tracking session not found")

// Engine owns one Session per tracked runner. Updates for a single runner
// must arrive in order; different runners may be updated concurrently.
type Engine struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	thresholds Thresholds
	log        zerolog.Logger
}

func NewEngine(thresholds Thresholds, log zerolog.Logger) *Engine {
	return &Engine{
		sessions:   map[string]*Session{},
		thresholds: thresholds,
		log:        log,
	}
}

func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// InitializeTracking starts a session at initial. An existing session for
// runnerID is replaced.
func (e *Engine) InitializeTracking(runnerID string, initial geo.Coordinate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions[runnerID] = &Session{
		RunnerID:          runnerID,
		StartPosition:     initial,
		CurrentPosition:   initial,
		Route:             []geo.Coordinate{initial},
		Lap:               1,
		LastLapCheckpoint: initial,
	}
}

// UpdateTracking applies a position and returns the new totals. Without a
// session it logs and returns distance 0, lap 1.
func (e *Engine) UpdateTracking(runnerID string, pos geo.Coordinate) Result {
	res, err := e.Update(runnerID, pos)
	if err != nil {
		e.log.Warn().Str("runner_id", runnerID).Msg("tracking data not found for runner")
		return zeroResult
	}
	return res
}

// Update is UpdateTracking returning ErrSessionNotFound for untracked runners.
func (e *Engine) Update(runnerID string, pos geo.Coordinate) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[runnerID]
	if !ok {
		return zeroResult, ErrSessionNotFound
	}

	delta := geo.Distance(s.CurrentPosition, pos)
	if e.thresholds.MaxSampleDeltaM > 0 && delta > e.thresholds.MaxSampleDeltaM {
		s.RejectedSamples++
		e.log.Debug().Str("runner_id", runnerID).Float64("delta_m", delta).Msg("sample delta above limit, not accumulated")
	} else {
		s.DistanceM += delta
	}
	s.CurrentPosition = pos
	s.Route = append(s.Route, pos)

	completed := e.checkLap(s)
	return Result{DistanceM: s.DistanceM, Lap: s.Lap, LapCompleted: completed}, nil
}

// checkLap counts a lap when the runner is back near the start, has covered
// the minimum lap distance, and has been more than DebounceM away from the
// last checkpoint at some sample since it was recorded. The checkpoint starts
// at the start position, so the debounce is tracked across samples rather
// than tested against the current one.
func (e *Engine) checkLap(s *Session) bool {
	if geo.Distance(s.CurrentPosition, s.LastLapCheckpoint) > e.thresholds.DebounceM {
		s.LeftCheckpoint = true
	}

	sinceLapStart := s.DistanceM - s.LapStartDistanceM
	toStart := geo.Distance(s.CurrentPosition, s.StartPosition)

	if toStart < e.thresholds.ProximityM &&
		sinceLapStart > e.thresholds.MinLapDistanceM &&
		s.LeftCheckpoint {
		s.LapDistancesM = append(s.LapDistancesM, sinceLapStart)
		s.Lap++
		s.LapStartDistanceM = s.DistanceM
		s.LastLapCheckpoint = s.CurrentPosition
		s.LeftCheckpoint = false
		return true
	}
	return false
}

// Snapshot returns a copy of the runner's session.
func (e *Engine) Snapshot(runnerID string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[runnerID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// ClearTracking drops the session; later updates return the zero result.
func (e *Engine) ClearTracking(runnerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, runnerID)
}

func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
