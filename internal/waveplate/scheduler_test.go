package waveplate

import (
	"sync"
	"testing"
	"time"

	"wavebot/pkg/logx"
)

// fireRecorder collects fires without ordering assumptions.
type fireRecorder struct {
	mu    sync.Mutex
	fired []int64
	ch    chan int64
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan int64, 16)}
}

func (r *fireRecorder) fire(userID int64) {
	r.mu.Lock()
	r.fired = append(r.fired, userID)
	r.mu.Unlock()
	r.ch <- userID
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *fireRecorder) wait(t *testing.T) int64 {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
		return 0
	}
}

func TestSchedulerFires(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := NewScheduler(rec.fire, logx.Nop())
	defer s.Stop()

	if !s.Arm(1, 10*time.Millisecond) {
		t.Fatal("Arm returned false")
	}
	if id := rec.wait(t); id != 1 {
		t.Fatalf("fired for user %d", id)
	}
	if s.Len() != 0 {
		t.Fatalf("Len after fire = %d", s.Len())
	}
}

func TestSchedulerRearmReplacesPending(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := NewScheduler(rec.fire, logx.Nop())
	defer s.Stop()

	s.Arm(1, time.Hour)
	s.Arm(1, 10*time.Millisecond)
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	rec.wait(t)
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestSchedulerCancelPreventsFire(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := NewScheduler(rec.fire, logx.Nop())
	defer s.Stop()

	s.Arm(1, 20*time.Millisecond)
	s.Cancel(1)

	time.Sleep(100 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Fatalf("fired %d times after cancel", got)
	}
	if _, ok := s.Pending(1); ok {
		t.Fatal("timer still pending after cancel")
	}
}

func TestSchedulerNonPositiveDelayCancels(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := NewScheduler(rec.fire, logx.Nop())
	defer s.Stop()

	s.Arm(1, time.Hour)
	if s.Arm(1, 0) {
		t.Fatal("Arm with zero delay returned true")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
	if s.Arm(2, -time.Minute) {
		t.Fatal("Arm with negative delay returned true")
	}
}

func TestSchedulerPerUserIndependence(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := NewScheduler(rec.fire, logx.Nop())
	defer s.Stop()

	s.Arm(1, time.Hour)
	s.Arm(2, 10*time.Millisecond)

	if id := rec.wait(t); id != 2 {
		t.Fatalf("fired for user %d, want 2", id)
	}
	if _, ok := s.Pending(1); !ok {
		t.Fatal("user 1 timer lost")
	}
}

func TestSchedulerStop(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := NewScheduler(rec.fire, logx.Nop())

	s.Arm(1, 20*time.Millisecond)
	s.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Fatalf("fired %d times after Stop", got)
	}
	if s.Arm(2, time.Minute) {
		t.Fatal("Arm succeeded after Stop")
	}
}
