package config

import (
	"fmt"
	"strings"
	"time"
)

// PositiveDuration parses a duration-valued config field. An empty value
// falls back to def; anything set must parse to a strictly positive duration,
// since none of the bot's intervals have a meaningful zero.
func PositiveDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration %q must be positive", field, raw)
	}
	return d, nil
}
