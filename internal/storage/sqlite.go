//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (*sqliteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: sqlite driver requires a path")
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// modernc.org/sqlite is single-writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, userID int64) (Snapshot, error) {
	var (
		level int
		asOf  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT level, as_of FROM snapshots WHERE user_id = ?`, userID,
	).Scan(&level, &asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("storage: get user %d: %w", userID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, asOf)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storage: user %d: bad as_of %q: %w", userID, asOf, err)
	}
	return Snapshot{UserID: userID, Level: level, AsOf: t}, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (user_id, level, as_of) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET level = excluded.level, as_of = excluded.as_of`,
		snap.UserID, snap.Level, snap.AsOf.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: upsert user %d: %w", snap.UserID, err)
	}
	return nil
}

func (s *sqliteStore) All(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, level, as_of FROM snapshots ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			id    int64
			level int
			asOf  string
		)
		if err := rows.Scan(&id, &level, &asOf); err != nil {
			return nil, fmt.Errorf("storage: scan: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, asOf)
		if err != nil {
			return nil, fmt.Errorf("storage: user %d: bad as_of %q: %w", id, asOf, err)
		}
		out = append(out, Snapshot{UserID: id, Level: level, AsOf: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
