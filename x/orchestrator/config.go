package orchestrator

import (
	"time"
)

// Config holds the orchestrator settings.
type Config struct {
	// UserAddress is the wallet the orchestrator acts for.
	UserAddress string `mapstructure:"user_address" yaml:"user_address"`

	// SynthesisTimeout bounds a single image rendering call.
	SynthesisTimeout time.Duration `mapstructure:"synthesis_timeout" yaml:"synthesis_timeout"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		SynthesisTimeout: 90 * time.Second,
	}
}
