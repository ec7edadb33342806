package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// fileStore keeps the whole snapshot table in memory and rewrites the backing
// JSON file atomically (temp file + fsync + rename) on every update. The table
// is small (one record per registered user), so whole-file rewrites are fine.
type fileStore struct {
	path string

	mu   sync.Mutex
	rows map[int64]Snapshot
}

// fileRecord is the on-disk shape of one snapshot. The user id is the map key
// (base-10 string), so it is not repeated in the value.
type fileRecord struct {
	Level int    `json:"level"`
	AsOf  string `json:"as_of"`
}

func openFile(cfg Config) (*fileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: file driver requires a path")
	}
	s := &fileStore{path: cfg.Path, rows: make(map[int64]Snapshot)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	var table map[string]fileRecord
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&table); err != nil {
		return fmt.Errorf("storage: decode %s: %w", s.path, err)
	}

	for key, rec := range table {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("storage: %s: bad user id %q: %w", s.path, key, err)
		}
		asOf, err := time.Parse(time.RFC3339Nano, rec.AsOf)
		if err != nil {
			return fmt.Errorf("storage: %s: user %d: bad as_of %q: %w", s.path, id, rec.AsOf, err)
		}
		s.rows[id] = Snapshot{UserID: id, Level: rec.Level, AsOf: asOf}
	}
	return nil
}

func (s *fileStore) Get(_ context.Context, userID int64) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.rows[userID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *fileStore) Upsert(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.rows[snap.UserID]
	s.rows[snap.UserID] = snap
	if err := s.persistLocked(); err != nil {
		// keep memory consistent with disk
		if had {
			s.rows[snap.UserID] = prev
		} else {
			delete(s.rows, snap.UserID)
		}
		return err
	}
	return nil
}

func (s *fileStore) All(_ context.Context) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.rows))
	for _, snap := range s.rows {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) persistLocked() error {
	table := make(map[string]fileRecord, len(s.rows))
	for id, snap := range s.rows {
		table[strconv.FormatInt(id, 10)] = fileRecord{
			Level: snap.Level,
			AsOf:  snap.AsOf.UTC().Format(time.RFC3339Nano),
		}
	}

	b, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
