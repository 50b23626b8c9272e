package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casters-pixels/generator/x/chain"
	"github.com/casters-pixels/generator/x/reconciler"
	"github.com/casters-pixels/generator/x/synth"
)

var (
	// ErrBusy means a generation is already in flight for this user.
	ErrBusy = errors.New("orchestrator: generation already in progress")
	// ErrNotRetryable means there is no failed synthesis to retry.
	ErrNotRetryable = errors.New("orchestrator: no failed image to retry")
)

// BlockReader supplies the current chain head.
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxConfirmation is a mined-transaction notification, from either the
// confirmation watcher or a mined-transaction webhook.
type TxConfirmation struct {
	Hash        common.Hash
	BlockNumber uint64
	Logs        []types.Log
}

// Orchestrator drives one user's generation lifecycle: approve, request,
// wait out the block delay, complete, synthesize the image. All entry
// points serialize on one mutex; the state machine never observes a
// half-applied transition.
type Orchestrator struct {
	mu sync.Mutex

	cfg     Config
	user    common.Address
	gateway chain.Gateway
	blocks  BlockReader
	images  synth.Synthesizer
	status  *reconciler.StatusLog
	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state            State
	currentBlock     uint64
	requestedAtBlock uint64

	approveTx  common.Hash
	requestTx  common.Hash
	completeTx common.Hash
	completing bool

	processed *ProcessedTransactionSet
	remix     []byte

	lastImage     *synth.Image
	lastReward    *big.Int
	lastLegendary bool
	retryPending  bool

	onImage func(synth.Image)
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the timestamp source for status entries.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithImageHook registers a callback invoked after each successful
// synthesis, outside the orchestrator lock.
func WithImageHook(fn func(synth.Image)) Option {
	return func(o *Orchestrator) { o.onImage = fn }
}

// New constructs an orchestrator for the configured user.
func New(
	cfg Config,
	gateway chain.Gateway,
	blocks BlockReader,
	images synth.Synthesizer,
	status *reconciler.StatusLog,
	log zerolog.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if cfg.UserAddress == "" || !common.IsHexAddress(cfg.UserAddress) {
		return nil, fmt.Errorf("orchestrator: invalid user address %q", cfg.UserAddress)
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultConfig().SynthesisTimeout
	}
	if gateway == nil || blocks == nil || images == nil || status == nil {
		return nil, errors.New("orchestrator: gateway, block reader, synthesizer and status log are required")
	}

	o := &Orchestrator{
		cfg:       cfg,
		user:      common.HexToAddress(cfg.UserAddress),
		gateway:   gateway,
		blocks:    blocks,
		images:    images,
		status:    status,
		log:       log.With().Str("component", "orchestrator").Logger(),
		metrics:   getMetrics(),
		now:       time.Now,
		state:     StateIdle,
		processed: NewProcessedTransactionSet(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start establishes the background context and reconciles against chain
// state, so a restart mid-generation resumes where it left off.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.runCtx, o.cancel = context.WithCancel(ctx)
	if err := o.reconcileLocked(ctx); err != nil {
		// A failed reconcile is not fatal: the user can still act, and the
		// next block tick re-checks.
		o.log.Warn().Err(err).Msg("startup reconciliation failed")
	}
	o.log.Info().
		Str("user", o.user.Hex()).
		Str("state", string(o.state)).
		Msg("orchestrator started")
	return nil
}

// Close cancels background work and waits for in-flight synthesis.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot is the read model served to the presentation layer.
type Snapshot struct {
	State            State          `json:"state"`
	User             common.Address `json:"user"`
	CurrentBlock     uint64         `json:"currentBlock"`
	RequestedAtBlock uint64         `json:"requestedAtBlock,omitempty"`
	BlocksRemaining  uint64         `json:"blocksRemaining,omitempty"`
	LastReward       *big.Int       `json:"lastReward,omitempty"`
	LastLegendary    bool           `json:"lastLegendary"`
	HasImage         bool           `json:"hasImage"`
	RetryAvailable   bool           `json:"retryAvailable"`
}

// Snapshot returns a consistent view of the orchestrator.
func (o *Orchestrator) Snapshot(ctx context.Context) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		State:            o.state,
		User:             o.user,
		CurrentBlock:     o.currentBlock,
		RequestedAtBlock: o.requestedAtBlock,
		LastReward:       o.lastReward,
		LastLegendary:    o.lastLegendary,
		HasImage:         o.lastImage != nil,
		RetryAvailable:   o.retryPending,
	}
	if o.state == StatePendingBlocks {
		if wait, err := o.gateway.BlockWait(ctx); err == nil {
			ready := o.requestedAtBlock + wait
			if o.currentBlock < ready {
				s.BlocksRemaining = ready - o.currentBlock
			}
		}
	}
	return s
}

// PendingTransactions lists the in-flight transaction hashes the
// confirmation watcher should poll receipts for.
func (o *Orchestrator) PendingTransactions() []common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []common.Hash
	for _, h := range []common.Hash{o.approveTx, o.requestTx, o.completeTx} {
		if h != (common.Hash{}) {
			out = append(out, h)
		}
	}
	return out
}

// LastImage returns the most recent synthesized image, if any.
func (o *Orchestrator) LastImage() *synth.Image {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastImage == nil {
		return nil
	}
	img := *o.lastImage
	return &img
}

// SetRemixImage stores reference image bytes for the next synthesis.
// Passing nil clears it.
func (o *Orchestrator) SetRemixImage(png []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remix = png
}

// Generate starts a new generation for the user. From Idle, Done or
// Failed it runs the full flow; if the chain already has a pending
// generation for the user it resumes that one instead of erroring.
func (o *Orchestrator) Generate(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.state.startable() {
		if o.state == StateReadyToComplete {
			// A manual click while completable just triggers completion.
			o.tryCompleteLocked(ctx)
			return nil
		}
		return ErrBusy
	}

	o.metrics.GenerationsStarted.Inc()
	o.resetGenerationLocked()

	// Resume a generation that already exists on-chain before spending
	// anything new.
	pending, err := o.gateway.HasPendingGeneration(ctx, o.user)
	if err != nil {
		o.failLocked(err, "Could not check generation status. Please try again")
		return err
	}
	if pending {
		return o.resumePendingLocked(ctx)
	}

	cost, err := o.gateway.GenerationCost(ctx)
	if err != nil {
		o.failLocked(err, "Could not read the generation cost. Please try again")
		return err
	}
	balance, err := o.gateway.BalanceOf(ctx, o.user)
	if err != nil {
		o.failLocked(err, "Could not read your balance. Please try again")
		return err
	}
	if balance.Cmp(cost) < 0 {
		msg := fmt.Sprintf(
			"You need %s CASTER tokens to generate. Your balance: %s CASTER",
			formatTokens(cost), formatTokens(balance),
		)
		o.failLocked(chain.ErrInsufficientBalance, msg)
		return chain.ErrInsufficientBalance
	}

	allowance, err := o.gateway.Allowance(ctx, o.user)
	if err != nil {
		o.failLocked(err, "Could not read your token allowance. Please try again")
		return err
	}
	if allowance.Cmp(cost) < 0 {
		// Approve only the shortfall, never the full cost again.
		deficit := new(big.Int).Sub(cost, allowance)
		return o.submitApproveLocked(ctx, deficit)
	}
	return o.submitRequestLocked(ctx)
}

// HandleBlock records a new chain head and advances the block wait.
func (o *Orchestrator) HandleBlock(ctx context.Context, height uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if height <= o.currentBlock {
		return
	}
	o.currentBlock = height
	o.advanceBlockWaitLocked(ctx)
}

// HandleTxConfirmed reacts to a mined transaction. Confirmations for
// unknown hashes, and completion confirmations already processed, are
// discarded.
func (o *Orchestrator) HandleTxConfirmed(ctx context.Context, conf TxConfirmation) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch conf.Hash {
	case o.approveTx:
		if o.state != StateApproving {
			return
		}
		o.log.Info().Str("tx", conf.Hash.Hex()).Msg("approval confirmed")
		o.approveTx = common.Hash{}
		if err := o.submitRequestLocked(ctx); err != nil {
			o.log.Warn().Err(err).Msg("request submission after approval failed")
		}

	case o.requestTx:
		if o.state != StateAwaitingRequestConfirm {
			return
		}
		o.requestTx = common.Hash{}
		o.requestedAtBlock = conf.BlockNumber
		if conf.BlockNumber > o.currentBlock {
			o.currentBlock = conf.BlockNumber
		}
		o.state = StatePendingBlocks
		o.pushStatusLocked(reconciler.KindRequest,
			fmt.Sprintf("Generation requested at block %d", conf.BlockNumber))
		o.advanceBlockWaitLocked(ctx)

	case o.completeTx:
		if len(conf.Logs) == 0 {
			// A log-less notification cannot tell a legendary outcome
			// apart from a standard one. Leave the at-most-once mark for
			// the receipt-bearing delivery from the poller or the event
			// subscription.
			o.log.Debug().Str("tx", conf.Hash.Hex()).Msg("completion confirmed without logs, awaiting receipt")
			return
		}
		if !o.processed.MarkIfNew(conf.Hash) {
			o.metrics.DuplicateConfirmations.Inc()
			return
		}
		legendary, reward := o.completionOutcome(conf.Logs)
		o.beginSynthesisLocked(legendary, reward)

	default:
		o.log.Debug().Str("tx", conf.Hash.Hex()).Msg("confirmation for unknown transaction")
	}
}

// HandleTxDropped reacts to a transaction vanishing from the mempool.
// Dropped is retryable: the user is told to try again, not shown a
// failure with no way out.
func (o *Orchestrator) HandleTxDropped(hash common.Hash) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if hash != o.approveTx && hash != o.requestTx && hash != o.completeTx {
		return
	}
	o.metrics.DroppedTransactions.Inc()
	o.log.Warn().Str("tx", hash.Hex()).Str("state", string(o.state)).Msg("transaction dropped")

	if hash == o.completeTx {
		// Completion can be resubmitted without restarting the flow.
		o.completeTx = common.Hash{}
		o.completing = false
		o.state = StateReadyToComplete
	} else {
		o.resetGenerationLocked()
	}
	o.pushStatusLocked(reconciler.KindError, "The transaction was dropped. Please try again")
}

// HandleStatus is the reconciler sink. Every update lands in the status
// log; completion events additionally drive synthesis when the local
// confirmation watcher missed them.
func (o *Orchestrator) HandleStatus(update reconciler.StatusUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.status.Append(update)

	if update.Kind != reconciler.KindComplete && update.Kind != reconciler.KindLegendary {
		return
	}
	if update.Address == nil || *update.Address != o.user {
		return
	}
	if update.TxHash != nil {
		if !o.processed.MarkIfNew(*update.TxHash) {
			o.metrics.DuplicateConfirmations.Inc()
			return
		}
	} else if o.state != StateAwaitingCompleteConfirm {
		// Without a transaction hash there is nothing to deduplicate on,
		// so only act when we are the ones waiting for this completion.
		return
	}
	o.beginSynthesisLocked(update.Kind == reconciler.KindLegendary, update.Reward)
}

// RetrySynthesis re-runs image rendering for the last completed
// generation after a synthesis failure. The on-chain side is untouched.
func (o *Orchestrator) RetrySynthesis() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.retryPending {
		return ErrNotRetryable
	}
	o.retryPending = false
	o.state = StateSynthesizing
	o.spawnSynthesisLocked(o.lastLegendary, o.lastReward, nil)
	return nil
}

// resumePendingLocked picks up a generation that already exists on-chain,
// either waiting out remaining blocks or completing immediately.
func (o *Orchestrator) resumePendingLocked(ctx context.Context) error {
	requestedAt, err := o.gateway.UserBlockNumber(ctx, o.user)
	if err != nil {
		o.failLocked(err, "Could not read your pending generation. Please try again")
		return err
	}
	head, err := o.blocks.BlockNumber(ctx)
	if err != nil {
		o.failLocked(err, "Could not read the current block. Please try again")
		return err
	}
	wait, err := o.gateway.BlockWait(ctx)
	if err != nil {
		o.failLocked(err, "Could not read the block wait. Please try again")
		return err
	}

	o.requestedAtBlock = requestedAt
	if head > o.currentBlock {
		o.currentBlock = head
	}
	if o.currentBlock >= requestedAt+wait {
		o.state = StateReadyToComplete
		o.tryCompleteLocked(ctx)
		return nil
	}
	o.state = StatePendingBlocks
	o.pushStatusLocked(reconciler.KindRequest, fmt.Sprintf(
		"Resuming pending generation from block %d, %d blocks remaining",
		requestedAt, requestedAt+wait-o.currentBlock,
	))
	return nil
}

// reconcileLocked aligns local state with the chain on startup.
func (o *Orchestrator) reconcileLocked(ctx context.Context) error {
	pending, err := o.gateway.HasPendingGeneration(ctx, o.user)
	if err != nil {
		return err
	}
	if !pending {
		return nil
	}
	return o.resumePendingLocked(ctx)
}

func (o *Orchestrator) submitApproveLocked(ctx context.Context, amount *big.Int) error {
	o.state = StateApproving
	handle, err := o.gateway.Approve(ctx, amount)
	if err != nil {
		o.handleSubmitErrorLocked(err, "Approval")
		return err
	}
	o.approveTx = handle.Hash
	o.log.Info().
		Str("tx", handle.Hash.Hex()).
		Str("amount", amount.String()).
		Msg("approval submitted")
	return nil
}

func (o *Orchestrator) submitRequestLocked(ctx context.Context) error {
	o.state = StateAwaitingRequestConfirm
	handle, err := o.gateway.RequestGeneration(ctx)
	if err != nil {
		if errors.Is(err, chain.ErrAlreadyHasPendingGeneration) {
			// Someone beat us to it, likely another session. Resume it.
			return o.resumePendingLocked(ctx)
		}
		o.handleSubmitErrorLocked(err, "Generation request")
		return err
	}
	o.requestTx = handle.Hash
	o.log.Info().Str("tx", handle.Hash.Hex()).Msg("generation request submitted")
	return nil
}

// advanceBlockWaitLocked moves PendingBlocks to ReadyToComplete and
// triggers completion once the wait has elapsed.
func (o *Orchestrator) advanceBlockWaitLocked(ctx context.Context) {
	switch o.state {
	case StateReadyToComplete:
		// A previous submission was dropped or backed off; try again.
		o.tryCompleteLocked(ctx)
	case StatePendingBlocks:
		wait, err := o.gateway.BlockWait(ctx)
		if err != nil {
			o.log.Warn().Err(err).Msg("block wait read failed, will retry on next block")
			return
		}
		if o.currentBlock < o.requestedAtBlock+wait {
			return
		}
		o.state = StateReadyToComplete
		o.tryCompleteLocked(ctx)
	}
}

// tryCompleteLocked submits completeGeneration exactly once per ready
// window. Concurrent triggers observe the in-flight flag and no-op.
func (o *Orchestrator) tryCompleteLocked(ctx context.Context) {
	if o.completing || o.state != StateReadyToComplete {
		return
	}
	o.completing = true
	o.state = StateAwaitingCompleteConfirm

	handle, err := o.gateway.CompleteGeneration(ctx)
	if err != nil {
		o.completing = false
		switch {
		case errors.Is(err, chain.ErrNoPendingGeneration):
			// Completed elsewhere; the race is benign and the completion
			// event will carry the result. No error surfaces.
			o.log.Debug().Msg("completion raced, another completer won")
			o.resetGenerationLocked()
		case errors.Is(err, chain.ErrMustWaitForBlocks):
			// Local head ran ahead of the node. Back off until the next
			// block notification.
			o.state = StatePendingBlocks
		default:
			o.failLocked(err, "Could not complete the generation. Please try again")
		}
		return
	}
	o.completeTx = handle.Hash
	o.metrics.CompletionSubmissions.Inc()
	o.log.Info().Str("tx", handle.Hash.Hex()).Msg("completion submitted")
}

// beginSynthesisLocked transitions to Synthesizing and starts rendering in
// the background. Callers have already passed the at-most-once gate.
func (o *Orchestrator) beginSynthesisLocked(legendary bool, reward *big.Int) {
	outcome := "standard"
	if legendary {
		outcome = "legendary"
	}
	o.metrics.GenerationsCompleted.WithLabelValues(outcome).Inc()

	o.completing = false
	o.completeTx = common.Hash{}
	o.state = StateSynthesizing
	o.lastLegendary = legendary
	o.lastReward = reward
	o.retryPending = false

	reference := o.remix
	o.remix = nil
	o.spawnSynthesisLocked(legendary, reward, reference)
}

func (o *Orchestrator) spawnSynthesisLocked(legendary bool, reward *big.Int, reference []byte) {
	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		synthCtx, cancel := context.WithTimeout(ctx, o.cfg.SynthesisTimeout)
		defer cancel()
		img, err := o.images.Generate(synthCtx, legendary, reference)
		o.finishSynthesis(img, err, legendary, reward)
	}()
}

// finishSynthesis records the rendering outcome. The on-chain reward is
// already settled, so even a failed render lands in Done.
func (o *Orchestrator) finishSynthesis(img synth.Image, err error, legendary bool, reward *big.Int) {
	o.mu.Lock()
	o.state = StateDone
	if err != nil {
		o.metrics.SynthesisFailures.Inc()
		o.retryPending = true
		o.log.Error().Err(err).Msg("image synthesis failed")
		o.pushStatusLocked(reconciler.KindError,
			"Generation reward processed, but the image could not be rendered. Retry from the gallery")
		o.mu.Unlock()
		return
	}

	o.lastImage = &img
	if legendary {
		msg := "Legendary Generation! Your image is ready"
		if reward != nil {
			msg = fmt.Sprintf("Legendary Generation! You won %s CASTER from the prize pool", formatTokens(reward))
		}
		o.pushStatusLocked(reconciler.KindLegendary, msg)
	} else {
		o.pushStatusLocked(reconciler.KindComplete, "Your generated image is ready")
	}
	hook := o.onImage
	o.mu.Unlock()

	if hook != nil {
		hook(img)
	}
}

// completionOutcome extracts isLegendary and reward from a completion
// receipt's logs. The event field is authoritative; absent a decodable
// event the completion counts as standard with no reward shown.
func (o *Orchestrator) completionOutcome(logs []types.Log) (bool, *big.Int) {
	contractABI := chain.PixelsABI()
	completeID := contractABI.Events["GenerationComplete"].ID
	for _, entry := range logs {
		if len(entry.Topics) == 0 || entry.Topics[0] != completeID {
			continue
		}
		values, err := contractABI.Unpack("GenerationComplete", entry.Data)
		if err != nil || len(values) < 2 {
			o.log.Warn().Err(err).Msg("undecodable GenerationComplete in receipt")
			continue
		}
		legendary, ok1 := values[0].(bool)
		reward, ok2 := values[1].(*big.Int)
		if ok1 && ok2 {
			return legendary, reward
		}
	}
	return false, nil
}

// handleSubmitErrorLocked maps a failed write to a user-facing status.
func (o *Orchestrator) handleSubmitErrorLocked(err error, action string) {
	mapped := chain.MapError(err)
	switch {
	case errors.Is(mapped, chain.ErrUserRejected):
		o.state = StateIdle
		o.pushStatusLocked(reconciler.KindError, "Transaction was cancelled")
	case errors.Is(mapped, chain.ErrInsufficientBalance),
		errors.Is(mapped, chain.ErrInsufficientCASTERBalance):
		o.failLocked(mapped, "Insufficient CASTER balance for this generation")
	default:
		o.failLocked(mapped, action+" failed. Please try again")
	}
}

// failLocked moves to Failed and records a user-facing error status.
func (o *Orchestrator) failLocked(err error, message string) {
	o.state = StateFailed
	o.log.Error().Err(err).Msg(message)
	o.pushStatusLocked(reconciler.KindError, message)
}

// resetGenerationLocked clears per-attempt bookkeeping. The processed set
// survives; old completion hashes must stay deduplicated.
func (o *Orchestrator) resetGenerationLocked() {
	o.state = StateIdle
	o.requestedAtBlock = 0
	o.approveTx = common.Hash{}
	o.requestTx = common.Hash{}
	o.completeTx = common.Hash{}
	o.completing = false
}

func (o *Orchestrator) pushStatusLocked(kind reconciler.Kind, message string) {
	o.status.Append(reconciler.StatusUpdate{
		ID:        uuid.NewString(),
		Kind:      kind,
		Address:   &o.user,
		Timestamp: o.now(),
		Message:   message,
	})
}

// formatTokens renders a wei amount as whole CASTER with up to two
// decimals, the way balances are shown to the user.
func formatTokens(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(1e18))
	s := r.FloatString(2)
	// Trim trailing zero cents.
	if len(s) > 3 && s[len(s)-3:] == ".00" {
		s = s[:len(s)-3]
	}
	return s
}
