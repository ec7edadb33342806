package storage

import (
	"fmt"
	"strings"
)

// Open creates a Store for the configured driver. An empty driver means "file".
func Open(cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg)
	case "sqlite":
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
