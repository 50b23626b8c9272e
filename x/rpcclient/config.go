package rpcclient

import "time"

// Config holds JSON-RPC client settings.
type Config struct {
	// Endpoint is the full JSON-RPC URL, API key included.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" env:"RPC_ENDPOINT"`

	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// CacheTTL is the default freshness window for cached results.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// SweepInterval controls how often expired cache entries are dropped.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		CacheTTL:       30 * time.Second,
		SweepInterval:  5 * time.Minute,
		MaxRetries:     5,
		RetryBaseDelay: time.Second,
	}
}
