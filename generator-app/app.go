package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/casters-pixels/generator/generator-app/config"
	apisrv "github.com/casters-pixels/generator/server/api"
	apimw "github.com/casters-pixels/generator/server/api/middleware"
	"github.com/casters-pixels/generator/x/chain"
	"github.com/casters-pixels/generator/x/orchestrator"
	"github.com/casters-pixels/generator/x/reconciler"
	"github.com/casters-pixels/generator/x/rpcclient"
	"github.com/casters-pixels/generator/x/synth"
	"github.com/casters-pixels/generator/x/webhook"
)

// App wires the generation client daemon together.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	rpc       *rpcclient.Client
	ethClient *ethclient.Client
	wsClient  *ethclient.Client
	gateway   chain.Gateway
	orch      *orchestrator.Orchestrator
	rec       *reconciler.Reconciler
	statusLog *reconciler.StatusLog
	apiServer *apisrv.Server

	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),
	}

	if err := app.initialize(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context, log zerolog.Logger) error {
	if err := a.initializeChain(ctx, log); err != nil {
		return err
	}
	if err := a.initializeOrchestrator(log); err != nil {
		return err
	}
	if err := a.initializeReconciler(ctx, log); err != nil {
		return err
	}
	return a.initializeAPIServer(log)
}

// initializeChain sets up the RPC client, the wallet session and the
// contract gateway.
func (a *App) initializeChain(ctx context.Context, log zerolog.Logger) error {
	rpc, err := rpcclient.New(a.cfg.RPC, log)
	if err != nil {
		return fmt.Errorf("failed to create rpc client: %w", err)
	}
	a.rpc = rpc

	ethClient, err := ethclient.DialContext(ctx, a.cfg.RPC.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	a.ethClient = ethClient

	submitter, err := chain.NewKeySubmitter(a.cfg.Wallet.PrivateKey, a.cfg.Chain.ChainID, ethClient, log)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	if !strings.EqualFold(submitter.From().Hex(), common.HexToAddress(a.cfg.User.Address).Hex()) {
		return fmt.Errorf("wallet key address %s does not match user.address %s",
			submitter.From().Hex(), a.cfg.User.Address)
	}

	gateway, err := chain.New(a.cfg.Chain, rpc, submitter, log)
	if err != nil {
		return fmt.Errorf("failed to create chain gateway: %w", err)
	}
	a.gateway = gateway
	return nil
}

func (a *App) initializeOrchestrator(log zerolog.Logger) error {
	a.statusLog = reconciler.NewStatusLog()

	synthClient, err := synth.New(a.cfg.Synth, synth.NewPromptBuilder(nil), log)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	orch, err := orchestrator.New(
		orchestrator.Config{
			UserAddress:      a.cfg.User.Address,
			SynthesisTimeout: a.cfg.User.SynthesisTimeout,
		},
		a.gateway,
		a.rpc,
		synthClient,
		a.statusLog,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orch = orch
	return nil
}

// initializeReconciler subscribes to contract events over websocket when an
// endpoint is configured.
func (a *App) initializeReconciler(ctx context.Context, log zerolog.Logger) error {
	if strings.TrimSpace(a.cfg.Events.WSEndpoint) == "" {
		a.log.Info().Msg("no events ws endpoint configured, running on polling and webhook only")
		return nil
	}

	wsClient, err := ethclient.DialContext(ctx, a.cfg.Events.WSEndpoint)
	if err != nil {
		return fmt.Errorf("failed to dial events ws endpoint: %w", err)
	}
	a.wsClient = wsClient

	rec, err := reconciler.New(
		reconciler.NewEthLogSource(wsClient),
		common.HexToAddress(a.cfg.Chain.ContractAddress),
		a.orch.HandleStatus,
		log,
		reconciler.WithUserFilter(common.HexToAddress(a.cfg.User.Address)),
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}
	a.rec = rec
	return nil
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer(log zerolog.Logger) error {
	apiCfg := apisrv.Config{
		ListenAddr:        a.cfg.API.ListenAddr,
		ReadHeaderTimeout: a.cfg.API.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.API.ReadTimeout,
		WriteTimeout:      a.cfg.API.WriteTimeout,
		IdleTimeout:       a.cfg.API.IdleTimeout,
		MaxHeaderBytes:    a.cfg.API.MaxHeaderBytes,
	}
	s := apisrv.NewServer(apiCfg, log)
	s.Use(apimw.Recover(log))
	s.Use(apimw.RequestID())
	s.Use(apimw.Logger(log))
	s.EnableCORS()

	whCfg := a.cfg.Webhook
	if whCfg.TokenAddress == "" {
		whCfg.TokenAddress = a.cfg.Chain.TokenAddress
	}

	routes := &apisrv.Routes{
		Generator: a.orch,
		Gateway:   a.gateway,
		Status:    a.statusLog,
		Webhook:   webhook.NewHandler(whCfg, a.orch, log),
		History:   a.rpc,
		Token:     common.HexToAddress(a.cfg.Chain.TokenAddress),
		User:      common.HexToAddress(a.cfg.User.Address),
		Version:   Version,

		MetricsEnabled: a.cfg.Metrics.Enabled,
	}
	routes.Register(s)

	a.apiServer = s
	return nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.rpc.Start(runCtx)

	if err := a.orch.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	if a.rec != nil {
		if err := a.rec.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
	}

	go a.watchChain(runCtx)
	go a.statsReporter(runCtx)

	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			a.log.Error().Err(err).Msg("API server error")
		}
	}()

	return a.runWithGracefulShutdown(runCtx)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a.log.Info().Msg("Generator daemon started successfully")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return a.shutdown()
}

// shutdown releases the event subscription, waits for in-flight synthesis
// and closes the node connections.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	if a.rec != nil {
		a.rec.Stop()
	}
	a.orch.Close()

	if a.wsClient != nil {
		a.wsClient.Close()
	}
	if a.ethClient != nil {
		a.ethClient.Close()
	}

	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}

// watchChain polls the chain head and the receipts of in-flight
// transactions, feeding both into the orchestrator. It backstops the
// webhook and the event subscription.
func (a *App) watchChain(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Watcher.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := a.rpc.BlockNumber(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("block poll failed")
			} else {
				a.orch.HandleBlock(ctx, height)
			}

			for _, hash := range a.orch.PendingTransactions() {
				rcpt, err := a.rpc.TransactionReceipt(ctx, hash)
				if err != nil {
					a.log.Warn().Err(err).Str("tx", hash.Hex()).Msg("receipt poll failed")
					continue
				}
				if rcpt == nil {
					continue
				}
				if rcpt.Status == 0 {
					a.log.Warn().Str("tx", hash.Hex()).Msg("transaction reverted")
					a.orch.HandleTxDropped(hash)
					continue
				}
				a.orch.HandleTxConfirmed(ctx, orchestrator.TxConfirmation{
					Hash:        rcpt.TxHash,
					BlockNumber: rcpt.BlockNumber,
					Logs:        rcpt.Logs,
				})
			}
		}
	}
}

// statsReporter periodically logs the orchestrator state.
func (a *App) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := a.orch.Snapshot(ctx)
			a.log.Info().
				Str("state", string(snap.State)).
				Uint64("current_block", snap.CurrentBlock).
				Uint64("blocks_remaining", snap.BlocksRemaining).
				Bool("has_image", snap.HasImage).
				Int("status_entries", a.statusLog.Len()).
				Msg("Generator statistics")
		}
	}
}
