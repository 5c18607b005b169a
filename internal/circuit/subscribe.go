package circuit

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// subscription serialises deliveries to one listener. mu is held while fn
// runs; owner is the goroutine holding it. A delivery that finds mu taken by
// another goroutine parks its snapshot in pending for the holder to pick up,
// so fan-out never blocks on a busy listener.
type subscription struct {
	id      uint64
	fn      Listener
	removed atomic.Bool

	mu    sync.Mutex
	owner atomic.Int64
	last  uint64 // guarded by mu

	pendingMu sync.Mutex
	pending   *Circuit
}

func (s *subscription) offer(snap Circuit) {
	s.pendingMu.Lock()
	if s.pending == nil || s.pending.Version < snap.Version {
		s.pending = &snap
	}
	s.pendingMu.Unlock()
}

func (s *subscription) take() *Circuit {
	s.pendingMu.Lock()
	p := s.pending
	s.pending = nil
	s.pendingMu.Unlock()
	return p
}

func (s *subscription) hasPending() bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.pending != nil
}

// SubscribeToUpdates registers fn and calls it once with the current state
// before returning. For an unknown circuit it logs, never calls fn, and
// returns a no-op.
func (r *Registry) SubscribeToUpdates(circuitID string, fn Listener) func() {
	unsubscribe, err := r.Subscribe(circuitID, fn)
	if err != nil {
		r.log.Warn().Err(err).Str("circuit_id", circuitID).Msg("subscribe to unknown circuit")
		return func() {}
	}
	return unsubscribe
}

// Subscribe delivers the current state to fn before fn can see any other
// revision, then attaches it to the circuit.
func (r *Registry) Subscribe(circuitID string, fn Listener) (func(), error) {
	r.mu.Lock()
	c, ok := r.circuits[circuitID]
	if !ok {
		r.mu.Unlock()
		return func() {}, ErrCircuitNotFound
	}
	r.nextSub++
	sub := &subscription{id: r.nextSub, fn: fn}
	snap := c.clone()
	r.mu.Unlock()

	sub.mu.Lock()
	sub.owner.Store(goroutineID())
	sub.last = snap.Version
	r.call(sub, snap)

	r.mu.Lock()
	c, ok = r.circuits[circuitID]
	if ok {
		r.subs[circuitID] = append(r.subs[circuitID], sub)
		if c.Version > sub.last {
			sub.offer(c.clone())
		}
	} else {
		sub.removed.Store(true)
	}
	r.mu.Unlock()

	r.drain(sub)
	sub.owner.Store(0)
	sub.mu.Unlock()
	r.flush(sub)

	return func() { r.unsubscribe(circuitID, sub) }, nil
}

// unsubscribe returns once no delivery to sub is running, unless it is
// called from sub's own listener.
func (r *Registry) unsubscribe(circuitID string, sub *subscription) {
	sub.removed.Store(true)

	r.mu.Lock()
	list := r.subs[circuitID]
	for i, s := range list {
		if s == sub {
			r.subs[circuitID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if sub.owner.Load() != goroutineID() {
		sub.mu.Lock()
		sub.mu.Unlock()
	}
	sub.take()
}

// CleanUp detaches every listener of the circuit. The circuit itself stays.
func (r *Registry) CleanUp(circuitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs[circuitID] {
		s.removed.Store(true)
	}
	delete(r.subs, circuitID)
}

// CloseCircuit removes the circuit and its listeners.
func (r *Registry) CloseCircuit(circuitID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.circuits[circuitID]; !ok {
		return false
	}
	r.dropLocked(circuitID)
	r.log.Info().Str("circuit_id", circuitID).Msg("circuit closed")
	return true
}

// Expire closes circuits idle for longer than the configured TTL and returns
// their ids. It does nothing when TTL is zero.
func (r *Registry) Expire(now time.Time) []string {
	if r.opts.TTL <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, c := range r.circuits {
		if now.Sub(c.UpdatedAt) > r.opts.TTL {
			r.dropLocked(id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.log.Info().Strs("circuit_ids", removed).Msg("expired idle circuits")
	}
	return removed
}

func (r *Registry) dropLocked(circuitID string) {
	for _, s := range r.subs[circuitID] {
		s.removed.Store(true)
	}
	delete(r.subs, circuitID)
	delete(r.circuits, circuitID)
}

// fanOut calls every target in registration order outside the registry lock.
func (r *Registry) fanOut(snap Circuit, targets []*subscription) {
	for _, sub := range targets {
		r.deliver(sub, snap)
	}
}

// deliver hands snap to sub unless sub was removed or already saw a newer
// revision. A mutation made from inside sub's own listener is delivered
// inline; one racing with a delivery on another goroutine is left to that
// goroutine.
func (r *Registry) deliver(sub *subscription, snap Circuit) {
	if sub.removed.Load() {
		return
	}
	if sub.owner.Load() == goroutineID() {
		if snap.Version > sub.last {
			sub.last = snap.Version
			r.call(sub, snap)
		}
		return
	}
	sub.offer(snap)
	r.flush(sub)
}

// flush delivers parked snapshots until none are left or another goroutine
// takes over.
func (r *Registry) flush(sub *subscription) {
	for {
		if !sub.mu.TryLock() {
			return
		}
		sub.owner.Store(goroutineID())
		r.drain(sub)
		sub.owner.Store(0)
		sub.mu.Unlock()
		if !sub.hasPending() {
			return
		}
	}
}

// drain runs with sub.mu held.
func (r *Registry) drain(sub *subscription) {
	for {
		p := sub.take()
		if p == nil {
			return
		}
		if sub.removed.Load() || p.Version <= sub.last {
			continue
		}
		sub.last = p.Version
		r.call(sub, *p)
	}
}

func (r *Registry) call(sub *subscription, snap Circuit) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("circuit_id", snap.ID).
				Uint64("subscription", sub.id).
				Str("panic", fmt.Sprint(rec)).
				Msg("listener failed")
		}
	}()
	sub.fn(snap.clone())
}

// goroutineID reads the current goroutine's id from its stack header
// ("goroutine 42 [running]:").
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
