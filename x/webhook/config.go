package webhook

// Config holds the inbound webhook settings.
type Config struct {
	// SigningKey verifies the X-Alchemy-Signature header. Empty disables
	// verification, for local development only.
	SigningKey string `mapstructure:"signing_key" yaml:"signing_key"`

	// TokenAddress is used to flag token burn activity.
	TokenAddress string `mapstructure:"token_address" yaml:"token_address"`
}
