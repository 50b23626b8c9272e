package synth

import "time"

// Config holds image-generation API settings.
type Config struct {
	// BaseURL of the generation API.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// APIKey is sent as a bearer token.
	APIKey string `mapstructure:"api_key" yaml:"api_key" env:"SYNTH_API_KEY"`

	// Engine is the model identifier in the endpoint path.
	Engine string `mapstructure:"engine" yaml:"engine"`

	// StylePreset passed with every request.
	StylePreset string `mapstructure:"style_preset" yaml:"style_preset"`

	// Timeout bounds one synthesis call. A paid on-chain reward must never
	// hang on a flaky image API.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the synthesis defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.stability.ai/v1",
		Engine:      "stable-diffusion-xl-1024-v1-0",
		StylePreset: "pixel-art",
		Timeout:     60 * time.Second,
	}
}
