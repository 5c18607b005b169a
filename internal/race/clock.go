package race

import (
	"fmt"
	"sync"
	"time"
)

// Clock measures a runner's race time and calls onTick every tick. Stop
// waits for the ticking goroutine, so no tick fires after it returns.
type Clock struct {
	tick   time.Duration
	onTick func(elapsed time.Duration)
	now    func() time.Time

	mu      sync.Mutex
	started time.Time
	elapsed time.Duration
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewClock(tick time.Duration, onTick func(elapsed time.Duration)) *Clock {
	if tick <= 0 {
		tick = time.Second
	}
	return &Clock{tick: tick, onTick: onTick, now: time.Now}
}

// Start begins timing. Starting a running clock does nothing.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.started = c.now()
	c.elapsed = 0
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
}

func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			if c.onTick != nil {
				c.onTick(c.Elapsed())
			}
		}
	}
}

// Stop halts the clock and returns the final elapsed time. It is safe to
// call more than once. It must not be called from onTick.
func (c *Clock) Stop() time.Duration {
	c.mu.Lock()
	if !c.running {
		elapsed := c.elapsed
		c.mu.Unlock()
		return elapsed
	}
	c.running = false
	elapsed := c.now().Sub(c.started)
	c.elapsed = elapsed
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
	return elapsed
}

func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return c.elapsed
	}
	return c.now().Sub(c.started)
}

// FormatElapsed renders HH:MM:SS for the race summary. Hours do not wrap.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// FormatLap renders MM:SS for the runner board.
func FormatLap(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", (total/60)%60, total%60)
}
