// Package speed turns raw velocity readings into the value shown on the
// race dashboard.
package speed

import (
	"math"
	"time"

	"backend-karttracker/internal/shared/geo"
)

// DefaultFloorKmh is the stationary-noise threshold: anything slower shows 0.
const DefaultFloorKmh = 1.0

const msToKmh = 3.6

type Sampler struct {
	FloorKmh float64
}

func NewSampler(floorKmh float64) Sampler {
	if floorKmh < 0 {
		floorKmh = 0
	}
	return Sampler{FloorKmh: floorKmh}
}

// ToDisplaySpeedKmh converts m/s to km/h rounded to one decimal. A nil reading
// counts as stationary.
func (s Sampler) ToDisplaySpeedKmh(speedMs *float64) float64 {
	if speedMs == nil {
		return 0
	}
	kmh := *speedMs * msToKmh
	if kmh < s.FloorKmh {
		return 0
	}
	return math.Round(kmh*10) / 10
}

// ToDisplaySpeedKmh uses the default floor.
func ToDisplaySpeedKmh(speedMs *float64) float64 {
	return Sampler{FloorKmh: DefaultFloorKmh}.ToDisplaySpeedKmh(speedMs)
}

// FromPositions derives m/s from two fixes taken dt apart, for platforms that
// do not report velocity. Returns nil when dt is not positive.
func FromPositions(a, b geo.Coordinate, dt time.Duration) *float64 {
	if dt <= 0 {
		return nil
	}
	v := geo.Distance(a, b) / dt.Seconds()
	return &v
}

// Stats accumulates displayed speeds for a race summary.
type Stats struct {
	count int
	sum   float64
	max   float64
}

func (s *Stats) Add(kmh float64) {
	s.count++
	s.sum += kmh
	if kmh > s.max {
		s.max = kmh
	}
}

func (s *Stats) Max() float64 {
	return s.max
}

// Avg is rounded to one decimal like the displayed values it averages.
func (s *Stats) Avg() float64 {
	if s.count == 0 {
		return 0
	}
	return math.Round(s.sum/float64(s.count)*10) / 10
}
