package location

import (
	"time"

	"backend-karttracker/internal/shared/geo"
)

// WatchOptions mirrors the subscription the device opens: at most one sample
// per MinInterval and only after MinDisplacementM of movement.
type WatchOptions struct {
	MinInterval      time.Duration
	MinDisplacementM float64
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{MinInterval: time.Second, MinDisplacementM: 1}
}

// Filter applies WatchOptions to raw samples. The first sample always passes.
// A sample with a zero timestamp is only subject to the displacement check.
type Filter struct {
	opts WatchOptions
	last *Sample
}

func NewFilter(opts WatchOptions) *Filter {
	return &Filter{opts: opts}
}

func (f *Filter) Accept(s Sample) bool {
	if f.last == nil {
		f.keep(s)
		return true
	}
	if f.opts.MinInterval > 0 && !s.Timestamp.IsZero() && !f.last.Timestamp.IsZero() {
		if s.Timestamp.Sub(f.last.Timestamp) < f.opts.MinInterval {
			return false
		}
	}
	if f.opts.MinDisplacementM > 0 && geo.Distance(f.last.Coordinate, s.Coordinate) < f.opts.MinDisplacementM {
		return false
	}
	f.keep(s)
	return true
}

func (f *Filter) keep(s Sample) {
	cp := s
	f.last = &cp
}
