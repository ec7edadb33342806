package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds settings that must (or may) come from the process environment.
//
// The bot token is deliberately environment-only: it never lives in the
// config file, and its absence is a fatal startup error rather than a
// silent default.
type Env struct {
	Token string `env:"WAVEBOT_TOKEN,notEmpty"`

	// ConfigPath overrides the -config flag when set.
	ConfigPath string `env:"WAVEBOT_CONFIG"`

	// StatePath overrides storage.path when set.
	StatePath string `env:"WAVEBOT_STATE_PATH"`
}

func LoadEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("environment: %w", err)
	}
	return e, nil
}
