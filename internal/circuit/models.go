package circuit

import (
	"time"

	"backend-karttracker/internal/shared/geo"
)

const (
	HostName     = "Você (Anfitrião)"
	InitialTime  = "00:00"
	runnerPrefix = "Piloto "
)

type Runner struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Speed     float64         `json:"speed"`
	DistanceM float64         `json:"distance"`
	Lap       int             `json:"lap"`
	Time      string          `json:"time"`
	Location  *geo.Coordinate `json:"location,omitempty"`
}

// Circuit is a race session. Runners are kept in join order; the host is
// always first.
type Circuit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HostID    string    `json:"hostId"`
	Runners   []Runner  `json:"runners"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   uint64    `json:"version"`
}

func (c Circuit) Runner(id string) (Runner, bool) {
	for _, r := range c.Runners {
		if r.ID == id {
			return r, true
		}
	}
	return Runner{}, false
}

func (c *Circuit) runnerRef(id string) *Runner {
	for i := range c.Runners {
		if c.Runners[i].ID == id {
			return &c.Runners[i]
		}
	}
	return nil
}

func (c Circuit) clone() Circuit {
	cp := c
	cp.Runners = make([]Runner, len(c.Runners))
	for i, r := range c.Runners {
		if r.Location != nil {
			loc := *r.Location
			r.Location = &loc
		}
		cp.Runners[i] = r
	}
	return cp
}

func newRunner(id, name string, loc *geo.Coordinate) Runner {
	return Runner{
		ID:       id,
		Name:     name,
		Lap:      1,
		Time:     InitialTime,
		Location: loc,
	}
}

// Listener receives the full circuit after every change.
type Listener func(Circuit)
