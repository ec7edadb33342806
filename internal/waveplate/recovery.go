package waveplate

import (
	"context"
	"errors"
	"fmt"

	"wavebot/internal/storage"
	"wavebot/pkg/logx"
)

// RecoverAll re-arms cap timers from stored snapshots. It runs synchronously
// at startup, before any user traffic, and again from the periodic resync
// sweep. It only reads: a user whose cap instant already passed while the
// process was down gets no retroactive notification, just no timer.
//
// Arming replaces any pending timer for the same user, so running this twice
// leaves exactly one timer per below-cap user.
func (t *Tracker) RecoverAll(ctx context.Context) error {
	snaps, err := t.store.All(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	armed := 0
	for _, snap := range snaps {
		ok, err := t.recoverUser(ctx, snap.UserID)
		if err != nil {
			return fmt.Errorf("recover user %d: %w", snap.UserID, err)
		}
		if ok {
			armed++
		}
	}

	if !t.log.IsZero() {
		t.log.Info("recovery complete",
			logx.Int("snapshots", len(snaps)),
			logx.Int("armed", armed))
	}
	return nil
}

// recoverUser re-arms one user from durable state. The snapshot is re-read
// under the user's lock rather than taken from the sweep's table copy: a
// SetLevel that lands while the sweep is running must not have its fresh
// timer state overwritten by an arm computed from a stale snapshot.
func (t *Tracker) recoverUser(ctx context.Context, userID int64) (bool, error) {
	defer t.lockUser(userID)()

	snap, err := t.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := t.clock()
	level := t.rules.CurrentLevel(snap.Level, snap.AsOf, now)
	if level >= t.rules.Cap {
		t.sched.Cancel(userID)
		return false, nil
	}
	// delay anchors at the derived level, so a partially elapsed period
	// restarts; the notification may land up to one period late, never early
	return t.sched.Arm(userID, t.rules.TimeToCap(level)), nil
}
