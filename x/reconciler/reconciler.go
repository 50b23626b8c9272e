package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/casters-pixels/generator/x/chain"
)

// Subscription is a cancellation handle for an event stream.
type Subscription interface {
	Unsubscribe()
}

// LogSource delivers raw contract logs. Implementations wrap an ethclient
// websocket subscription or, in tests, a plain channel.
type LogSource interface {
	SubscribeLogs(ctx context.Context, contract common.Address) (<-chan types.Log, Subscription, error)
}

// Handler receives normalized status updates, in delivery order.
type Handler func(StatusUpdate)

// Reconciler subscribes to the generation contract's events and normalizes
// them into a single StatusUpdate stream. It performs no de-duplication and
// no re-ordering; the orchestrator owns those concerns.
type Reconciler struct {
	source   LogSource
	contract common.Address
	user     *common.Address // nil means no filter
	handler  Handler
	log      zerolog.Logger
	now      func() time.Time

	sub    Subscription
	cancel context.CancelFunc

	requestedID common.Hash
	completeID  common.Hash
	prizePoolID common.Hash
}

// Option customizes the reconciler.
type Option func(*Reconciler)

// WithUserFilter restricts user-scoped events to the given address.
// PrizePoolUpdated is always delivered.
func WithUserFilter(user common.Address) Option {
	return func(r *Reconciler) { r.user = &user }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New constructs a Reconciler for the given contract.
func New(source LogSource, contract common.Address, handler Handler, log zerolog.Logger, opts ...Option) (*Reconciler, error) {
	if source == nil {
		return nil, errors.New("reconciler: log source is required")
	}
	if handler == nil {
		return nil, errors.New("reconciler: handler is required")
	}

	contractABI := chain.PixelsABI()
	r := &Reconciler{
		source:      source,
		contract:    contract,
		handler:     handler,
		log:         log.With().Str("component", "event-reconciler").Logger(),
		now:         time.Now,
		requestedID: contractABI.Events["GenerationRequested"].ID,
		completeID:  contractABI.Events["GenerationComplete"].ID,
		prizePoolID: contractABI.Events["PrizePoolUpdated"].ID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start subscribes and begins delivering updates until Stop or context
// cancellation.
func (r *Reconciler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	logs, sub, err := r.source.SubscribeLogs(runCtx, r.contract)
	if err != nil {
		cancel()
		return fmt.Errorf("reconciler: subscribe: %w", err)
	}
	r.sub = sub
	r.cancel = cancel

	go r.run(runCtx, logs)

	r.log.Info().
		Str("contract", r.contract.Hex()).
		Bool("user_filtered", r.user != nil).
		Msg("event reconciler started")
	return nil
}

// Stop releases the subscription.
func (r *Reconciler) Stop() {
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Reconciler) run(ctx context.Context, logs <-chan types.Log) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-logs:
			if !ok {
				r.log.Debug().Msg("log channel closed")
				return
			}
			if update, ok := r.decode(entry); ok {
				r.handler(update)
			}
		}
	}
}

// decode turns a raw log into a StatusUpdate. The second return is false
// when the log is not one of the three events, malformed, or filtered out.
func (r *Reconciler) decode(entry types.Log) (StatusUpdate, bool) {
	if len(entry.Topics) == 0 {
		return StatusUpdate{}, false
	}

	switch entry.Topics[0] {
	case r.requestedID:
		return r.decodeRequested(entry)
	case r.completeID:
		return r.decodeComplete(entry)
	case r.prizePoolID:
		return r.decodePrizePool(entry)
	default:
		return StatusUpdate{}, false
	}
}

func (r *Reconciler) decodeRequested(entry types.Log) (StatusUpdate, bool) {
	user, ok := r.indexedAddress(entry)
	if !ok || !r.matchesUser(user) {
		return StatusUpdate{}, false
	}

	values, err := chain.PixelsABI().Unpack("GenerationRequested", entry.Data)
	if err != nil || len(values) == 0 {
		r.log.Warn().Err(err).Msg("undecodable GenerationRequested log")
		return StatusUpdate{}, false
	}
	blockNumber, ok := values[0].(*big.Int)
	if !ok {
		return StatusUpdate{}, false
	}

	block := blockNumber.Uint64()
	update := newUpdate(KindRequest, fmt.Sprintf("Generation requested at block %d", block), r.now())
	update.Address = &user
	update.BlockNumber = &block
	update.TxHash = txHash(entry)
	return update, true
}

func (r *Reconciler) decodeComplete(entry types.Log) (StatusUpdate, bool) {
	user, ok := r.indexedAddress(entry)
	if !ok || !r.matchesUser(user) {
		return StatusUpdate{}, false
	}

	values, err := chain.PixelsABI().Unpack("GenerationComplete", entry.Data)
	if err != nil || len(values) < 2 {
		r.log.Warn().Err(err).Msg("undecodable GenerationComplete log")
		return StatusUpdate{}, false
	}
	isLegendary, ok := values[0].(bool)
	if !ok {
		return StatusUpdate{}, false
	}
	reward, ok := values[1].(*big.Int)
	if !ok {
		return StatusUpdate{}, false
	}

	kind := KindComplete
	message := "Generation complete!"
	if isLegendary {
		kind = KindLegendary
		message = fmt.Sprintf("Legendary generation! Reward: %s CASTER", reward.String())
	}

	update := newUpdate(kind, message, r.now())
	update.Address = &user
	update.Reward = reward
	update.TxHash = txHash(entry)
	return update, true
}

func (r *Reconciler) decodePrizePool(entry types.Log) (StatusUpdate, bool) {
	values, err := chain.PixelsABI().Unpack("PrizePoolUpdated", entry.Data)
	if err != nil || len(values) == 0 {
		r.log.Warn().Err(err).Msg("undecodable PrizePoolUpdated log")
		return StatusUpdate{}, false
	}
	newAmount, ok := values[0].(*big.Int)
	if !ok {
		return StatusUpdate{}, false
	}

	update := newUpdate(KindPrizePool, fmt.Sprintf("Prize pool updated to %s CASTER", newAmount.String()), r.now())
	update.PrizePool = newAmount
	return update, true
}

func (r *Reconciler) indexedAddress(entry types.Log) (common.Address, bool) {
	if len(entry.Topics) < 2 {
		return common.Address{}, false
	}
	return common.BytesToAddress(entry.Topics[1].Bytes()[12:]), true
}

// matchesUser applies the user filter. Address comparison through
// common.Address is byte equality, which makes hex-case differences
// irrelevant.
func (r *Reconciler) matchesUser(user common.Address) bool {
	if r.user == nil {
		return true
	}
	return *r.user == user
}

func txHash(entry types.Log) *common.Hash {
	if entry.TxHash == (common.Hash{}) {
		return nil
	}
	h := entry.TxHash
	return &h
}
