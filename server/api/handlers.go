package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casters-pixels/generator/metrics"
	"github.com/casters-pixels/generator/x/chain"
	"github.com/casters-pixels/generator/x/orchestrator"
	"github.com/casters-pixels/generator/x/reconciler"
	"github.com/casters-pixels/generator/x/rpcclient"
	"github.com/casters-pixels/generator/x/synth"
)

// Generator is the orchestrator surface the API needs.
type Generator interface {
	Generate(ctx context.Context) error
	RetrySynthesis() error
	Snapshot(ctx context.Context) orchestrator.Snapshot
	LastImage() *synth.Image
	SetRemixImage(png []byte)
}

var _ Generator = (*orchestrator.Orchestrator)(nil)

// HistoryReader serves the provider-backed token reads behind /history.
type HistoryReader interface {
	TokenName(ctx context.Context, token common.Address, ttl time.Duration) (string, error)
	TransferHistory(ctx context.Context, token, from common.Address, ttl time.Duration) ([]rpcclient.AssetTransfer, error)
}

var _ HistoryReader = (*rpcclient.Client)(nil)

// Routes wires the generation endpoints onto a Server.
type Routes struct {
	Generator Generator
	Gateway   chain.Gateway
	Status    *reconciler.StatusLog
	Webhook   http.Handler
	History   HistoryReader
	Token     common.Address
	User      common.Address
	Version   string

	// MetricsEnabled mounts /metrics. Collection always runs; this only
	// controls exposure.
	MetricsEnabled bool
}

// Register mounts all endpoints on the server's router.
func (rt *Routes) Register(s *Server) {
	r := s.Router
	r.HandleFunc("/health", rt.health).Methods(http.MethodGet)
	r.HandleFunc("/status", rt.status).Methods(http.MethodGet)
	r.HandleFunc("/stats", rt.stats).Methods(http.MethodGet)
	r.HandleFunc("/generate", rt.generate).Methods(http.MethodPost)
	r.HandleFunc("/generate/retry", rt.retry).Methods(http.MethodPost)
	r.HandleFunc("/remix", rt.remix).Methods(http.MethodPost)
	r.HandleFunc("/image", rt.image).Methods(http.MethodGet)
	if rt.History != nil {
		r.HandleFunc("/history", rt.history).Methods(http.MethodGet)
	}
	if rt.Webhook != nil {
		r.Handle("/webhook", rt.Webhook).Methods(http.MethodPost)
	}
	if rt.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		)).Methods(http.MethodGet)
	}
}

func (rt *Routes) health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": rt.Version,
	})
}

func (rt *Routes) status(w http.ResponseWriter, r *http.Request) {
	snap := rt.Generator.Snapshot(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"generation": snap,
		"updates":    rt.Status.Recent(reconciler.DisplayWindow),
	})
}

// stats serves the contract-wide numbers the presentation layer shows:
// prize pool, cost, odds, and the user's balance and allowance.
func (rt *Routes) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pool, err := rt.Gateway.PrizePool(ctx)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read prize pool", nil)
		return
	}
	cost, err := rt.Gateway.GenerationCost(ctx)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read generation cost", nil)
		return
	}
	wait, err := rt.Gateway.BlockWait(ctx)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read block wait", nil)
		return
	}
	chance, err := rt.Gateway.LegendaryChance(ctx)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read legendary chance", nil)
		return
	}
	balance, err := rt.Gateway.BalanceOf(ctx, rt.User)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read balance", nil)
		return
	}
	allowance, err := rt.Gateway.Allowance(ctx, rt.User)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read allowance", nil)
		return
	}
	lpBalance, err := rt.Gateway.LPWalletBalance(ctx)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read lp wallet balance", nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"prizePool":       pool.String(),
		"generationCost":  cost.String(),
		"blockWait":       wait,
		"legendaryChance": chance.String(),
		"balance":         balance.String(),
		"allowance":       allowance.String(),
		"lpWalletBalance": lpBalance.String(),
	})
}

// history lists the user's outgoing token transfers, so the presentation
// layer can show past generation payments.
func (rt *Routes) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, err := rt.History.TokenName(ctx, rt.Token, time.Hour)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read token name", nil)
		return
	}
	transfers, err := rt.History.TransferHistory(ctx, rt.Token, rt.User, 0)
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "chain_read_failed", "could not read transfer history", nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"token":     name,
		"transfers": transfers,
	})
}

func (rt *Routes) generate(w http.ResponseWriter, r *http.Request) {
	if err := rt.Generator.Generate(r.Context()); err != nil {
		rt.writeGenerateError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (rt *Routes) retry(w http.ResponseWriter, r *http.Request) {
	if err := rt.Generator.RetrySynthesis(); err != nil {
		if errors.Is(err, orchestrator.ErrNotRetryable) {
			WriteError(w, r, http.StatusConflict, "not_retryable", "no failed image to retry", nil)
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "retry_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// remix stores a reference image and starts a generation that renders a
// variation of it.
func (rt *Routes) remix(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Image == "" {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "base64 image is required", nil)
		return
	}
	png, err := base64.StdEncoding.DecodeString(body.Image)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "image is not valid base64", nil)
		return
	}

	rt.Generator.SetRemixImage(png)
	if err := rt.Generator.Generate(r.Context()); err != nil {
		rt.Generator.SetRemixImage(nil)
		rt.writeGenerateError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (rt *Routes) image(w http.ResponseWriter, r *http.Request) {
	img := rt.Generator.LastImage()
	if img == nil {
		WriteError(w, r, http.StatusNotFound, "no_image", "no generated image yet", nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Image-Prompt", img.Prompt)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.PNG)
}

func (rt *Routes) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		WriteError(w, r, http.StatusConflict, "generation_in_progress", "a generation is already in progress", nil)
	case errors.Is(err, chain.ErrInsufficientBalance),
		errors.Is(err, chain.ErrInsufficientCASTERBalance):
		WriteError(w, r, http.StatusPaymentRequired, "insufficient_balance", "not enough CASTER to generate", nil)
	case errors.Is(err, chain.ErrUserRejected):
		WriteError(w, r, http.StatusConflict, "cancelled", "transaction was cancelled", nil)
	default:
		WriteError(w, r, http.StatusBadGateway, "generation_failed", err.Error(), nil)
	}
}
