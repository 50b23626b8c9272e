package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/casters-pixels/generator/x/chain"
	"github.com/casters-pixels/generator/x/rpcclient"
	"github.com/casters-pixels/generator/x/synth"
	"github.com/casters-pixels/generator/x/webhook"
)

// Config holds the complete application configuration
type Config struct {
	Log     LogConfig        `mapstructure:"log"     yaml:"log"`
	API     APIServerConfig  `mapstructure:"api"     yaml:"api"`
	Metrics MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	RPC     rpcclient.Config `mapstructure:"rpc"     yaml:"rpc"`
	Chain   chain.Config     `mapstructure:"chain"   yaml:"chain"`
	Wallet  WalletConfig     `mapstructure:"wallet"  yaml:"wallet"`
	Events  EventsConfig     `mapstructure:"events"  yaml:"events"`
	Synth   synth.Config     `mapstructure:"synth"   yaml:"synth"`
	Webhook webhook.Config   `mapstructure:"webhook" yaml:"webhook"`
	User    UserConfig       `mapstructure:"user"    yaml:"user"`
	Watcher WatcherConfig    `mapstructure:"watcher" yaml:"watcher"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// APIServerConfig holds HTTP API server configuration
type APIServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"    yaml:"max_header_bytes"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
}

// WalletConfig holds the signing key for the wallet session
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key" yaml:"private_key" env:"WALLET_PRIVATE_KEY"`
}

// EventsConfig holds the websocket endpoint for the contract event
// subscription. Empty disables the subscription; the daemon then relies on
// receipt polling and the webhook alone.
type EventsConfig struct {
	WSEndpoint string `mapstructure:"ws_endpoint" yaml:"ws_endpoint" env:"EVENTS_WS_ENDPOINT"`
}

// UserConfig identifies the wallet the daemon acts for
type UserConfig struct {
	Address          string        `mapstructure:"address"           yaml:"address"           env:"USER_ADDRESS"`
	SynthesisTimeout time.Duration `mapstructure:"synthesis_timeout" yaml:"synthesis_timeout"`
}

// WatcherConfig controls the block and receipt polling cadence
type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fallback env aliases for the secrets that are never kept in the file
	if strings.TrimSpace(cfg.Wallet.PrivateKey) == "" {
		if val := strings.TrimSpace(os.Getenv("WALLET_PRIVATE_KEY")); val != "" {
			cfg.Wallet.PrivateKey = val
		}
	}
	if strings.TrimSpace(cfg.Synth.APIKey) == "" {
		if val := strings.TrimSpace(os.Getenv("SYNTH_API_KEY")); val != "" {
			cfg.Synth.APIKey = val
		}
	}
	if strings.TrimSpace(cfg.RPC.Endpoint) == "" {
		if val := strings.TrimSpace(os.Getenv("RPC_ENDPOINT")); val != "" {
			cfg.RPC.Endpoint = val
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("api.listen_addr", ":8081")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.max_header_bytes", 1048576)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("rpc.endpoint", "")
	v.SetDefault("rpc.request_timeout", "30s")
	v.SetDefault("rpc.cache_ttl", "30s")
	v.SetDefault("rpc.sweep_interval", "5m")
	v.SetDefault("rpc.max_retries", 5)
	v.SetDefault("rpc.retry_base_delay", "1s")

	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.token_address", "")
	v.SetDefault("chain.lp_wallet_address", "")
	v.SetDefault("chain.chain_id", 0)

	v.SetDefault("events.ws_endpoint", "")

	v.SetDefault("synth.base_url", "https://api.stability.ai/v1")
	v.SetDefault("synth.engine", "stable-diffusion-xl-1024-v1-0")
	v.SetDefault("synth.style_preset", "pixel-art")
	v.SetDefault("synth.timeout", "60s")

	v.SetDefault("webhook.signing_key", "")

	v.SetDefault("user.address", "")
	v.SetDefault("user.synthesis_timeout", "90s")

	v.SetDefault("watcher.poll_interval", "4s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPC.Endpoint) == "" {
		return fmt.Errorf("rpc.endpoint is required")
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if !common.IsHexAddress(c.User.Address) {
		return fmt.Errorf("user.address %q is not a valid address", c.User.Address)
	}
	if strings.TrimSpace(c.Wallet.PrivateKey) == "" {
		return fmt.Errorf("wallet.private_key is required")
	}
	if strings.TrimSpace(c.Synth.APIKey) == "" {
		return fmt.Errorf("synth.api_key is required")
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateChain() error {
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("chain.contract_address %q is not a valid address", c.Chain.ContractAddress)
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		return fmt.Errorf("chain.token_address %q is not a valid address", c.Chain.TokenAddress)
	}
	if c.Chain.LPWalletAddress != "" && !common.IsHexAddress(c.Chain.LPWalletAddress) {
		return fmt.Errorf("chain.lp_wallet_address %q is not a valid address", c.Chain.LPWalletAddress)
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	return nil
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Wallet.PrivateKey != "" {
		out.Wallet.PrivateKey = "********"
	}
	if out.Synth.APIKey != "" {
		out.Synth.APIKey = "********"
	}
	if out.Webhook.SigningKey != "" {
		out.Webhook.SigningKey = "********"
	}
	return out
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		API: APIServerConfig{
			ListenAddr:        ":8081",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Metrics: MetricsConfig{Enabled: true},
		RPC:     rpcclient.DefaultConfig(),
		Synth:   synth.DefaultConfig(),
		User:    UserConfig{SynthesisTimeout: 90 * time.Second},
		Watcher: WatcherConfig{PollInterval: 4 * time.Second},
	}
}
