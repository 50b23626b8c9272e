package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxHandle identifies a submitted, not yet confirmed transaction.
// Confirmation is observed asynchronously; nothing in this package blocks
// on inclusion.
type TxHandle struct {
	Hash common.Hash
}

// TxSubmitter is the wallet collaborator: it signs and broadcasts a
// transaction to the given contract and returns its hash immediately.
type TxSubmitter interface {
	SubmitTransaction(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error)
}

// Gateway is the full contract surface the rest of the client depends on.
type Gateway interface {
	// Token reads.
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
	LPWalletBalance(ctx context.Context) (*big.Int, error)

	// Generation contract reads.
	GenerationCost(ctx context.Context) (*big.Int, error)
	BlockWait(ctx context.Context) (uint64, error)
	LegendaryChance(ctx context.Context) (*big.Int, error)
	PrizePool(ctx context.Context) (*big.Int, error)
	HasPendingGeneration(ctx context.Context, user common.Address) (bool, error)
	UserBlockNumber(ctx context.Context, user common.Address) (uint64, error)

	// Writes. Each returns a TxHandle immediately.
	Approve(ctx context.Context, amount *big.Int) (TxHandle, error)
	RequestGeneration(ctx context.Context) (TxHandle, error)
	CompleteGeneration(ctx context.Context) (TxHandle, error)

	// ContractAddress is the generation contract this gateway talks to.
	ContractAddress() common.Address
}
