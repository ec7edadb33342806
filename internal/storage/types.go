package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no snapshot exists for the user.
var ErrNotFound = errors.New("storage: not found")

// Snapshot is the durable record of a user's waveplate state: the level that
// was last explicitly set and the instant it was set at. The current level is
// always derived from these two fields, never stored.
type Snapshot struct {
	UserID int64     `json:"user_id"`
	Level  int       `json:"level"`
	AsOf   time.Time `json:"as_of"`
}

type Config struct {
	// Driver selects the backend: "file" (default) or "sqlite".
	Driver string
	// Path is the backing file (JSON table or SQLite database).
	Path string
	// BusyTimeout applies to the sqlite driver only.
	BusyTimeout time.Duration
}

// Store persists waveplate snapshots. Implementations must make Upsert durable
// before returning: callers arm timers only after a successful write.
type Store interface {
	Get(ctx context.Context, userID int64) (Snapshot, error)
	Upsert(ctx context.Context, snap Snapshot) error
	All(ctx context.Context) ([]Snapshot, error)
	Close() error
}
