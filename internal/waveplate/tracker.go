package waveplate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wavebot/internal/storage"
	"wavebot/pkg/logx"
)

// ErrLevelOutOfRange is returned by SetLevel for levels outside [0, cap].
var ErrLevelOutOfRange = errors.New("waveplate: level out of range")

// NotifySink receives cap-reached events. Delivery retries, if any, are the
// sink's business: from the tracker's point of view a fire is consumed the
// moment it happens.
type NotifySink interface {
	NotifyCapReached(ctx context.Context, userID int64) error
}

// Status is a derived, read-only view of one user's state.
type Status struct {
	Registered bool
	Level      int
	Cap        int
	TimeToCap  time.Duration
	CapAt      time.Time
}

func (s Status) Capped() bool { return s.Registered && s.Level >= s.Cap }

// Tracker owns the per-user waveplate state machine: it validates writes,
// persists them, and keeps the cap timer in sync with the stored baseline.
// Writes for the same user are serialized; different users proceed in
// parallel.
type Tracker struct {
	rules Rules
	store storage.Store
	sched *Scheduler
	sink  NotifySink
	log   logx.Logger

	// clock is swappable in tests
	clock func() time.Time

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

func NewTracker(rules Rules, store storage.Store, sink NotifySink, log logx.Logger) *Tracker {
	t := &Tracker{
		rules: rules,
		store: store,
		sink:  sink,
		log:   log,
		clock: time.Now,
		locks: make(map[int64]*sync.Mutex),
	}
	t.sched = NewScheduler(t.onCapReached, log)
	return t
}

func (t *Tracker) Rules() Rules          { return t.rules }
func (t *Tracker) Scheduler() *Scheduler { return t.sched }

func (t *Tracker) lockUser(userID int64) func() {
	t.lockMu.Lock()
	mu, ok := t.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		t.locks[userID] = mu
	}
	t.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Register creates a snapshot for a first-time user at full cap (so a fresh
// user is never immediately notified). Returns false without touching
// anything when the user already exists.
func (t *Tracker) Register(ctx context.Context, userID int64) (bool, error) {
	defer t.lockUser(userID)()

	_, err := t.store.Get(ctx, userID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, err
	}

	now := t.clock()
	if err := t.store.Upsert(ctx, storage.Snapshot{UserID: userID, Level: t.rules.Cap, AsOf: now}); err != nil {
		return false, fmt.Errorf("register user %d: %w", userID, err)
	}
	// at cap: nothing to wait for
	t.sched.Cancel(userID)

	if !t.log.IsZero() {
		t.log.Info("user registered", logx.Int64("user_id", userID))
	}
	return true, nil
}

// SetLevel records a new baseline (level, now) and re-arms the cap timer.
// The write must be durable before the timer is touched: on a storage error
// the previous baseline and its timer stay exactly as they were.
func (t *Tracker) SetLevel(ctx context.Context, userID int64, level int) (Status, error) {
	if !t.rules.ValidLevel(level) {
		return Status{}, fmt.Errorf("%w: %d not in [0, %d]", ErrLevelOutOfRange, level, t.rules.Cap)
	}

	defer t.lockUser(userID)()

	now := t.clock()
	if err := t.store.Upsert(ctx, storage.Snapshot{UserID: userID, Level: level, AsOf: now}); err != nil {
		return Status{}, fmt.Errorf("set level for user %d: %w", userID, err)
	}
	t.sched.Arm(userID, t.rules.TimeToCap(level))

	if !t.log.IsZero() {
		t.log.Info("level set",
			logx.Int64("user_id", userID),
			logx.Int("level", level),
			logx.Duration("time_to_cap", t.rules.TimeToCap(level)))
	}
	return t.statusFor(level, now), nil
}

// ResetToZero is the common "just spent everything" shortcut.
func (t *Tracker) ResetToZero(ctx context.Context, userID int64) (Status, error) {
	return t.SetLevel(ctx, userID, 0)
}

// Status derives the user's current level without writing anything.
func (t *Tracker) Status(ctx context.Context, userID int64) (Status, error) {
	snap, err := t.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Status{Registered: false, Cap: t.rules.Cap}, nil
	}
	if err != nil {
		return Status{}, err
	}

	now := t.clock()
	level := t.rules.CurrentLevel(snap.Level, snap.AsOf, now)
	return t.statusFor(level, now), nil
}

func (t *Tracker) statusFor(level int, now time.Time) Status {
	return Status{
		Registered: true,
		Level:      level,
		Cap:        t.rules.Cap,
		TimeToCap:  t.rules.TimeToCap(level),
		CapAt:      now.Add(t.rules.TimeToCap(level)),
	}
}

func (t *Tracker) onCapReached(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.sink.NotifyCapReached(ctx, userID); err != nil {
		// the fire is spent either way; the sink owns redelivery
		if !t.log.IsZero() {
			t.log.Error("cap notification failed",
				logx.Int64("user_id", userID),
				logx.Err(err))
		}
		return
	}
	if !t.log.IsZero() {
		t.log.Info("cap reached", logx.Int64("user_id", userID))
	}
}

// Close cancels all timers. Snapshots stay on disk for the next start.
func (t *Tracker) Close() {
	t.sched.Stop()
}
