package tracking

import "backend-karttracker/internal/shared/geo"

// Thresholds are the lap and distance policy. Circuits differ in size, so
// every value is configurable.
type Thresholds struct {
	// MinLapDistanceM is the distance a runner must cover in the current lap
	// before returning to the start line counts.
	MinLapDistanceM float64
	// ProximityM is how close to the start position counts as crossing it.
	ProximityM float64
	// DebounceM is how far from the last lap checkpoint the runner must be
	// before another lap can fire.
	DebounceM float64
	// MaxSampleDeltaM rejects single-sample jumps longer than this from the
	// distance total. Zero disables the filter.
	MaxSampleDeltaM float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLapDistanceM: 200,
		ProximityM:      30,
		DebounceM:       60,
	}
}

// Session is the per-runner tracking state.
type Session struct {
	RunnerID          string           `json:"runner_id"`
	StartPosition     geo.Coordinate   `json:"start_position"`
	CurrentPosition   geo.Coordinate   `json:"current_position"`
	Route             []geo.Coordinate `json:"route"`
	DistanceM         float64          `json:"distance_m"`
	Lap               int              `json:"lap"`
	LapStartDistanceM float64          `json:"lap_start_distance_m"`
	LastLapCheckpoint geo.Coordinate   `json:"last_lap_checkpoint"`
	LeftCheckpoint    bool             `json:"left_checkpoint"`
	LapDistancesM     []float64        `json:"lap_distances_m"`
	RejectedSamples   int              `json:"rejected_samples"`
}

func (s Session) clone() Session {
	cp := s
	cp.Route = append([]geo.Coordinate(nil), s.Route...)
	cp.LapDistancesM = append([]float64(nil), s.LapDistancesM...)
	return cp
}

// Result is what a position update reports back to the caller.
type Result struct {
	DistanceM    float64 `json:"distance"`
	Lap          int     `json:"lap"`
	LapCompleted bool    `json:"lap_completed"`
}

var zeroResult = Result{DistanceM: 0, Lap: 1}
