// Package expiry runs one countdown per active reservation and fires a
// callback exactly once when the deadline passes. Countdowns recompute
// remaining time from the wall-clock deadline on every tick rather than
// decrementing a counter, so they stay correct across sleep and suspend
// gaps. Time comes from an injected clock; tests drive it with a fake.
package expiry

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Scheduler owns the countdowns, keyed by reservation ID. Countdowns are
// independent: one per drop card with an active reservation.
type Scheduler struct {
	clock clockwork.Clock

	mu         sync.Mutex
	countdowns map[string]*countdown
}

type countdown struct {
	done chan struct{}
	once sync.Once
}

func (c *countdown) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewScheduler returns a scheduler ticking on the given clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock:      clock,
		countdowns: make(map[string]*countdown),
	}
}

// Start begins a countdown toward expiresAt. If the deadline is already
// in the past the callback fires on its own goroutine — never re-entrantly
// during registration — and no ticker is started. Starting an ID that
// already has a countdown replaces it without firing the old callback.
func (s *Scheduler) Start(id string, expiresAt time.Time, onExpire func(id string)) {
	if Remaining(expiresAt, s.clock.Now()) <= 0 {
		s.Cancel(id)
		log.Debug().Str("reservation_id", id).Msg("deadline already passed, expiring immediately")
		go onExpire(id)
		return
	}

	cd := &countdown{done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.countdowns[id]; ok {
		prev.stop()
	}
	s.countdowns[id] = cd
	s.mu.Unlock()

	log.Debug().
		Str("reservation_id", id).
		Time("expires_at", expiresAt).
		Int("remaining_sec", Remaining(expiresAt, s.clock.Now())).
		Msg("countdown started")

	go s.run(id, expiresAt, cd, onExpire)
}

func (s *Scheduler) run(id string, expiresAt time.Time, cd *countdown, onExpire func(id string)) {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cd.done:
			return
		case <-ticker.Chan():
			select {
			case <-cd.done:
				return
			default:
			}
			if Remaining(expiresAt, s.clock.Now()) > 0 {
				continue
			}
			s.remove(id, cd)
			onExpire(id)
			return
		}
	}
}

// Cancel stops a countdown without firing its callback. Used when a
// reservation completes or is cancelled before its deadline. Unknown IDs
// are a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	cd, ok := s.countdowns[id]
	if ok {
		cd.stop()
		delete(s.countdowns, id)
	}
	s.mu.Unlock()
	if ok {
		log.Debug().Str("reservation_id", id).Msg("countdown cancelled")
	}
}

// Active reports whether a countdown is running for the ID.
func (s *Scheduler) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.countdowns[id]
	return ok
}

// Shutdown cancels every countdown without firing callbacks.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id, cd := range s.countdowns {
		cd.stop()
		delete(s.countdowns, id)
	}
	s.mu.Unlock()
}

// remove deletes the countdown only if it is still the current one for
// the ID, so a replacement started meanwhile is left alone.
func (s *Scheduler) remove(id string, cd *countdown) {
	s.mu.Lock()
	if cur, ok := s.countdowns[id]; ok && cur == cd {
		delete(s.countdowns, id)
	}
	s.mu.Unlock()
}

// Remaining returns the whole seconds left before expiresAt, floored at
// zero.
func Remaining(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// FormatRemaining renders seconds as m:ss for countdown display.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
