package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Tracker  TrackerConfig  `json:"tracker"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// TrackerConfig controls the waveplate regeneration rules.
//
// Defaults (when fields are omitted/zero):
//   - cap: 240
//   - regen_period: "6m"
//   - resync: "0 * * * *" (set "none" to disable)
type TrackerConfig struct {
	Cap int `json:"cap,omitempty"`

	// RegenPeriod is a Go duration string: the time one waveplate takes to regenerate.
	RegenPeriod string `json:"regen_period,omitempty"`

	// Resync is a cron spec for the periodic re-arm sweep, or "none".
	Resync string `json:"resync,omitempty"`
}

// StorageConfig selects the snapshot store backend.
//
// Driver values:
//   - "file" (default): single JSON table, rewritten atomically on every update
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type StorageConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
