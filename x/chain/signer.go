package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// TxBackend is the node surface needed to build and broadcast a signed
// transaction. *ethclient.Client satisfies it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// gasLimitBufferPct pads the gas estimate; completion gas varies with the
// legendary payout path.
const gasLimitBufferPct = 15

// KeySubmitter signs transactions with a local key and broadcasts them.
// It is the daemon's wallet session.
type KeySubmitter struct {
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	backend TxBackend
	log     zerolog.Logger
}

var _ TxSubmitter = (*KeySubmitter)(nil)

// NewKeySubmitter constructs a submitter from a hex-encoded private key.
func NewKeySubmitter(privateKeyHex string, chainID uint64, backend TxBackend, log zerolog.Logger) (*KeySubmitter, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}
	if chainID == 0 {
		return nil, fmt.Errorf("chain: chain id is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("chain: tx backend is required")
	}
	return &KeySubmitter{
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).SetUint64(chainID),
		backend: backend,
		log:     log.With().Str("component", "wallet").Logger(),
	}, nil
}

// From returns the wallet address.
func (s *KeySubmitter) From() common.Address {
	return s.from
}

// SubmitTransaction builds, signs and broadcasts an EIP-1559 transaction,
// returning its hash without waiting for inclusion.
func (s *KeySubmitter) SubmitTransaction(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, MapError(fmt.Errorf("chain: nonce: %w", err))
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, MapError(fmt.Errorf("chain: gas tip: %w", err))
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, MapError(fmt.Errorf("chain: head: %w", err))
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      calldata,
	})
	if err != nil {
		// Reverts surface here; map them to the contract sentinels.
		return common.Hash{}, MapError(err)
	}
	gas += gas * gasLimitBufferPct / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, MapError(err)
	}

	s.log.Info().
		Str("tx", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("transaction broadcast")
	return signed.Hash(), nil
}
