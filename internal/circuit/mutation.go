package circuit

import (
	"fmt"

	"backend-karttracker/internal/shared/geo"
)

type Field string

const (
	FieldSpeed    Field = "speed"
	FieldDistance Field = "distance"
	FieldLap      Field = "lap"
	FieldTime     Field = "time"
	FieldLocation Field = "location"
)

// Mutation sets a single runner field. Only the member matching Field is read.
type Mutation struct {
	Field    Field           `json:"field"`
	Number   float64         `json:"value,omitempty"`
	Text     string          `json:"text,omitempty"`
	Location *geo.Coordinate `json:"location,omitempty"`
}

func SetSpeed(kmh float64) Mutation { return Mutation{Field: FieldSpeed, Number: kmh} }
func SetDistance(m float64) Mutation { return Mutation{Field: FieldDistance, Number: m} }
func SetLap(lap int) Mutation { return Mutation{Field: FieldLap, Number: float64(lap)} }
func SetTime(label string) Mutation { return Mutation{Field: FieldTime, Text: label} }
func SetLocation(c geo.Coordinate) Mutation {
	return Mutation{Field: FieldLocation, Location: &c}
}

func (m Mutation) validate() error {
	switch m.Field {
	case FieldSpeed, FieldDistance, FieldTime:
		return nil
	case FieldLap:
		if m.Number < 1 {
			return fmt.Errorf("%w: lap must be at least 1", ErrInvalidMutation)
		}
		return nil
	case FieldLocation:
		if m.Location == nil {
			return fmt.Errorf("%w: location required", ErrInvalidMutation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidMutation, m.Field)
	}
}

func (m Mutation) apply(r *Runner, allowLapRegression bool) error {
	switch m.Field {
	case FieldSpeed:
		r.Speed = m.Number
	case FieldDistance:
		r.DistanceM = m.Number
	case FieldLap:
		lap := int(m.Number)
		if lap < r.Lap && !allowLapRegression {
			return fmt.Errorf("%w: %d -> %d", ErrLapRegression, r.Lap, lap)
		}
		r.Lap = lap
	case FieldTime:
		r.Time = m.Text
	case FieldLocation:
		loc := *m.Location
		r.Location = &loc
	}
	return nil
}
