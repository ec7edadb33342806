package waveplate

import (
	"sync"
	"time"

	"wavebot/pkg/logx"
)

// FireFunc is invoked (on a timer goroutine) when a user's timer fires live.
type FireFunc func(userID int64)

type pendingTimer struct {
	gen    uint64
	timer  *time.Timer
	fireAt time.Time
}

// Scheduler keeps at most one live timer per user. Every Arm stamps the timer
// with a fresh generation; a firing callback whose generation no longer
// matches the pending entry is stale (cancelled or superseded) and does
// nothing. All map mutations happen under mu, so a fire racing an Arm/Cancel
// resolves deterministically to exactly one of "fires" or "discarded".
type Scheduler struct {
	fire FireFunc
	log  logx.Logger

	mu      sync.Mutex
	pending map[int64]*pendingTimer
	gen     uint64
	stopped bool
}

func NewScheduler(fire FireFunc, log logx.Logger) *Scheduler {
	return &Scheduler{
		fire:    fire,
		log:     log,
		pending: make(map[int64]*pendingTimer),
	}
}

// Arm schedules a fire for userID after delay, replacing any pending timer.
// A delay <= 0 cancels instead of arming (the user is already at cap; firing
// immediately would notify on state the caller has just handled).
func (s *Scheduler) Arm(userID int64, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.cancelLocked(userID)
	if delay <= 0 {
		return false
	}

	s.gen++
	gen := s.gen
	p := &pendingTimer{gen: gen, fireAt: time.Now().Add(delay)}
	p.timer = time.AfterFunc(delay, func() { s.onFire(userID, gen) })
	s.pending[userID] = p

	if !s.log.IsZero() {
		s.log.Debug("timer armed",
			logx.Int64("user_id", userID),
			logx.Duration("delay", delay))
	}
	return true
}

// Cancel removes userID's pending timer, if any. A callback already past its
// generation check cannot be stopped, but one that has not run yet will see a
// stale generation and discard itself.
func (s *Scheduler) Cancel(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(userID)
}

func (s *Scheduler) cancelLocked(userID int64) {
	p, ok := s.pending[userID]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(s.pending, userID)
}

func (s *Scheduler) onFire(userID int64, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[userID]
	if !ok || p.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	// consume the timer before invoking the hook: a fire is one-shot even if
	// delivery downstream fails
	delete(s.pending, userID)
	s.mu.Unlock()

	s.fire(userID)
}

// Pending reports whether userID has a live timer and when it would fire.
func (s *Scheduler) Pending(userID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[userID]
	if !ok {
		return time.Time{}, false
	}
	return p.fireAt, true
}

// Len is the number of live timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all timers. Arm refuses after Stop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
}
