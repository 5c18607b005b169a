package history

import "backend-karttracker/internal/shared/geo"

// Entry is one finished race. The JSON shape is what mobile clients already
// have on disk, so field names must not change.
type Entry struct {
	ID                string           `json:"id"`
	Date              string           `json:"date"`
	CircuitName       string           `json:"circuitName"`
	Duration          string           `json:"duration"`
	Distance          float64          `json:"distance"`
	MaxSpeed          float64          `json:"maxSpeed"`
	AvgSpeed          float64          `json:"avgSpeed"`
	Laps              int              `json:"laps"`
	Position          int              `json:"position"`
	TotalParticipants int              `json:"totalParticipants"`
	Route             []geo.Coordinate `json:"route"`
}
