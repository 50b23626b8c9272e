package chain

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/casters-pixels/generator/x/rpcclient"
)

//go:embed abi/casters_pixels.json
var castersPixelsABIJSON string

//go:embed abi/erc20.json
var erc20ABIJSON string

// Freshness policy for reads. Contract constants change never, pool level
// changes slowly, pending state gates transitions and must not be stale.
const (
	constantTTL = 5 * time.Minute
	poolTTL     = 30 * time.Second
	noCache     = rpcclient.DisableCache
)

// Caller is the read path under the gateway. *rpcclient.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params []any, ttl time.Duration) (json.RawMessage, error)
	TokenBalance(ctx context.Context, token, holder common.Address, ttl time.Duration) (*big.Int, error)
}

type gateway struct {
	cfg       Config
	rpc       Caller
	submitter TxSubmitter
	log       zerolog.Logger

	contract common.Address
	token    common.Address
	lpWallet common.Address

	pixelsABI abi.ABI
	tokenABI  abi.ABI
}

var _ Gateway = (*gateway)(nil)

// New constructs a Gateway over the given RPC caller and wallet submitter.
func New(cfg Config, rpc Caller, submitter TxSubmitter, log zerolog.Logger) (Gateway, error) {
	if strings.TrimSpace(cfg.ContractAddress) == "" {
		return nil, errors.New("chain: contract address is required")
	}
	if strings.TrimSpace(cfg.TokenAddress) == "" {
		return nil, errors.New("chain: token address is required")
	}
	if rpc == nil {
		return nil, errors.New("chain: rpc caller is required")
	}

	pixelsABI, err := abi.JSON(strings.NewReader(castersPixelsABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse CastersPixels ABI: %w", err)
	}
	tokenABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse ERC-20 ABI: %w", err)
	}

	return &gateway{
		cfg:       cfg,
		rpc:       rpc,
		submitter: submitter,
		log:       log.With().Str("component", "chain-gateway").Logger(),
		contract:  common.HexToAddress(cfg.ContractAddress),
		token:     common.HexToAddress(cfg.TokenAddress),
		lpWallet:  common.HexToAddress(cfg.LPWalletAddress),
		pixelsABI: pixelsABI,
		tokenABI:  tokenABI,
	}, nil
}

func (g *gateway) ContractAddress() common.Address {
	return g.contract
}

// --- reads ---

func (g *gateway) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	return g.rpc.TokenBalance(ctx, g.token, holder, noCache)
}

func (g *gateway) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := g.callToken(ctx, "allowance", noCache, owner, g.contract)
	if err != nil {
		return nil, err
	}
	return toBigInt(out[0])
}

func (g *gateway) LPWalletBalance(ctx context.Context) (*big.Int, error) {
	return g.rpc.TokenBalance(ctx, g.token, g.lpWallet, poolTTL)
}

func (g *gateway) GenerationCost(ctx context.Context) (*big.Int, error) {
	out, err := g.callContract(ctx, "GENERATION_COST", constantTTL)
	if err != nil {
		return nil, err
	}
	return toBigInt(out[0])
}

func (g *gateway) BlockWait(ctx context.Context) (uint64, error) {
	out, err := g.callContract(ctx, "BLOCK_WAIT", constantTTL)
	if err != nil {
		return 0, err
	}
	wait, err := toBigInt(out[0])
	if err != nil {
		return 0, err
	}
	return wait.Uint64(), nil
}

func (g *gateway) LegendaryChance(ctx context.Context) (*big.Int, error) {
	out, err := g.callContract(ctx, "LEGENDARY_CHANCE", constantTTL)
	if err != nil {
		return nil, err
	}
	return toBigInt(out[0])
}

func (g *gateway) PrizePool(ctx context.Context) (*big.Int, error) {
	out, err := g.callContract(ctx, "prizePool", poolTTL)
	if err != nil {
		return nil, err
	}
	return toBigInt(out[0])
}

func (g *gateway) HasPendingGeneration(ctx context.Context, user common.Address) (bool, error) {
	out, err := g.callContract(ctx, "hasPendingGeneration", noCache, user)
	if err != nil {
		return false, err
	}
	pending, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: unexpected hasPendingGeneration result %T", out[0])
	}
	return pending, nil
}

func (g *gateway) UserBlockNumber(ctx context.Context, user common.Address) (uint64, error) {
	out, err := g.callContract(ctx, "userBlockNumber", noCache, user)
	if err != nil {
		return 0, err
	}
	block, err := toBigInt(out[0])
	if err != nil {
		return 0, err
	}
	return block.Uint64(), nil
}

// --- writes ---

func (g *gateway) Approve(ctx context.Context, amount *big.Int) (TxHandle, error) {
	calldata, err := g.tokenABI.Pack("approve", g.contract, amount)
	if err != nil {
		return TxHandle{}, fmt.Errorf("chain: pack approve: %w", err)
	}
	return g.submit(ctx, g.token, calldata, "approve")
}

func (g *gateway) RequestGeneration(ctx context.Context) (TxHandle, error) {
	calldata, err := g.pixelsABI.Pack("requestGeneration")
	if err != nil {
		return TxHandle{}, fmt.Errorf("chain: pack requestGeneration: %w", err)
	}
	return g.submit(ctx, g.contract, calldata, "requestGeneration")
}

func (g *gateway) CompleteGeneration(ctx context.Context) (TxHandle, error) {
	calldata, err := g.pixelsABI.Pack("completeGeneration")
	if err != nil {
		return TxHandle{}, fmt.Errorf("chain: pack completeGeneration: %w", err)
	}
	return g.submit(ctx, g.contract, calldata, "completeGeneration")
}

func (g *gateway) submit(ctx context.Context, to common.Address, calldata []byte, op string) (TxHandle, error) {
	if g.submitter == nil {
		return TxHandle{}, errors.New("chain: no transaction submitter configured")
	}
	hash, err := g.submitter.SubmitTransaction(ctx, to, calldata)
	if err != nil {
		mapped := MapError(err)
		g.log.Warn().Err(mapped).Str("op", op).Msg("transaction submission failed")
		return TxHandle{}, mapped
	}
	g.log.Info().Str("op", op).Str("tx", hash.Hex()).Msg("transaction submitted")
	return TxHandle{Hash: hash}, nil
}

// --- helpers ---

func (g *gateway) callContract(ctx context.Context, method string, ttl time.Duration, args ...any) ([]any, error) {
	return g.ethCall(ctx, g.pixelsABI, g.contract, method, ttl, args...)
}

func (g *gateway) callToken(ctx context.Context, method string, ttl time.Duration, args ...any) ([]any, error) {
	return g.ethCall(ctx, g.tokenABI, g.token, method, ttl, args...)
}

func (g *gateway) ethCall(ctx context.Context, contractABI abi.ABI, to common.Address, method string, ttl time.Duration, args ...any) ([]any, error) {
	calldata, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	raw, err := g.rpc.Call(ctx, "eth_call", []any{
		map[string]any{"to": to.Hex(), "data": hexEncode(calldata)},
		"latest",
	}, ttl)
	if err != nil {
		return nil, MapError(fmt.Errorf("chain: %s: %w", method, err))
	}

	var hexResult string
	if err := json.Unmarshal(raw, &hexResult); err != nil {
		return nil, fmt.Errorf("chain: decode %s result: %w", method, err)
	}

	out, err := contractABI.Unpack(method, common.FromHex(hexResult))
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	return out, nil
}

func hexEncode(data []byte) string {
	return "0x" + common.Bytes2Hex(data)
}

func toBigInt(v any) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unexpected result type %T", v)
	}
	return n, nil
}
