package chain

// Config holds the on-chain addresses the client talks to.
type Config struct {
	// ContractAddress is the CastersPixels generation contract (hex).
	ContractAddress string `mapstructure:"contract_address" yaml:"contract_address" env:"CHAIN_CONTRACT_ADDRESS"`

	// TokenAddress is the CASTER ERC-20 token contract (hex).
	TokenAddress string `mapstructure:"token_address" yaml:"token_address" env:"CHAIN_TOKEN_ADDRESS"`

	// LPWalletAddress receives the burn share; read for display only.
	LPWalletAddress string `mapstructure:"lp_wallet_address" yaml:"lp_wallet_address" env:"CHAIN_LP_WALLET_ADDRESS"`

	// ChainID of the network, for sanity checks at startup.
	ChainID uint64 `mapstructure:"chain_id" yaml:"chain_id" env:"CHAIN_ID"`
}
