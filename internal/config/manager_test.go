package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{
		"telegram": {"poll_timeout": "15s"},
		"logging": {"level": "debug", "console": true},
		"tracker": {"cap": 240, "regen_period": "6m", "resync": "0 * * * *"},
		"storage": {"driver": "file", "path": "state.json"}
	}`)

	m := NewManager(p)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Tracker.Cap != 240 {
		t.Fatalf("cap = %d, want 240", cfg.Tracker.Cap)
	}
	if cfg.Tracker.RegenPeriod != "6m" {
		t.Fatalf("regen_period = %q", cfg.Tracker.RegenPeriod)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", strings.Join([]string{
		"telegram:",
		"  poll_timeout: 10s",
		"logging:",
		"  level: info",
		"tracker:",
		"  cap: 120",
		"  regen_period: 3m",
		"storage:",
		"  driver: file",
		"  path: state.json",
	}, "\n"))

	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if cfg.Tracker.Cap != 120 || cfg.Tracker.RegenPeriod != "3m" {
		t.Fatalf("unexpected tracker config: %+v", cfg.Tracker)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"tracker": {"cap": 240, "bogus": 1}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"tracker": {"cap": 240}} {"extra": true}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestCommitAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	cfg := &Config{}
	cfg.Tracker.Cap = 60
	m.Commit(cfg)
	if got := m.Get(); got != cfg {
		t.Fatal("Get returned different config")
	}
}

func TestSubscribePublishDropOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a, b := &Config{}, &Config{}
	a.Tracker.Cap = 1
	b.Tracker.Cap = 2
	m.publish(a)
	m.publish(b) // queue full: a dropped, b delivered

	select {
	case got := <-ch:
		if got.Tracker.Cap != 2 {
			t.Fatalf("got cap %d, want latest (2)", got.Tracker.Cap)
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}

func TestPositiveDuration(t *testing.T) {
	t.Parallel()
	if _, err := PositiveDuration("tracker.regen_period", "nope", time.Minute); err == nil {
		t.Fatal("expected error for bad duration")
	}
	if _, err := PositiveDuration("tracker.regen_period", "0s", time.Minute); err == nil {
		t.Fatal("expected error for zero duration")
	}
	if _, err := PositiveDuration("tracker.regen_period", "-5m", time.Minute); err == nil {
		t.Fatal("expected error for negative duration")
	}
	d, err := PositiveDuration("tracker.regen_period", "6m", time.Minute)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != 6*time.Minute {
		t.Fatalf("d = %v", d)
	}
	got, err := PositiveDuration("tracker.regen_period", "", time.Minute)
	if err != nil {
		t.Fatalf("default parse: %v", err)
	}
	if got != time.Minute {
		t.Fatalf("default = %v", got)
	}
}
