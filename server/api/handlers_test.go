package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/casters-pixels/generator/x/chain"
	"github.com/casters-pixels/generator/x/orchestrator"
	"github.com/casters-pixels/generator/x/reconciler"
	"github.com/casters-pixels/generator/x/rpcclient"
	"github.com/casters-pixels/generator/x/synth"
)

type stubGenerator struct {
	generateErr error
	retryErr    error
	snapshot    orchestrator.Snapshot
	lastImage   *synth.Image
	remix       []byte
	generated   int
}

func (g *stubGenerator) Generate(ctx context.Context) error {
	if g.generateErr != nil {
		return g.generateErr
	}
	g.generated++
	return nil
}

func (g *stubGenerator) RetrySynthesis() error { return g.retryErr }

func (g *stubGenerator) Snapshot(ctx context.Context) orchestrator.Snapshot { return g.snapshot }

func (g *stubGenerator) LastImage() *synth.Image { return g.lastImage }

func (g *stubGenerator) SetRemixImage(png []byte) { g.remix = png }

type stubGateway struct{}

func (stubGateway) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(500), nil
}
func (stubGateway) Allowance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(100), nil
}
func (stubGateway) LPWalletBalance(context.Context) (*big.Int, error) { return big.NewInt(9), nil }
func (stubGateway) GenerationCost(context.Context) (*big.Int, error)  { return big.NewInt(100), nil }
func (stubGateway) BlockWait(context.Context) (uint64, error)         { return 3, nil }
func (stubGateway) LegendaryChance(context.Context) (*big.Int, error) {
	return big.NewInt(5), nil
}
func (stubGateway) PrizePool(context.Context) (*big.Int, error) { return big.NewInt(1234), nil }
func (stubGateway) HasPendingGeneration(context.Context, common.Address) (bool, error) {
	return false, nil
}
func (stubGateway) UserBlockNumber(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (stubGateway) Approve(context.Context, *big.Int) (chain.TxHandle, error) {
	return chain.TxHandle{}, nil
}
func (stubGateway) RequestGeneration(context.Context) (chain.TxHandle, error) {
	return chain.TxHandle{}, nil
}
func (stubGateway) CompleteGeneration(context.Context) (chain.TxHandle, error) {
	return chain.TxHandle{}, nil
}
func (stubGateway) ContractAddress() common.Address { return common.Address{} }

type stubHistory struct {
	transfers []rpcclient.AssetTransfer
	err       error
}

func (h *stubHistory) TokenName(context.Context, common.Address, time.Duration) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "Caster", nil
}

func (h *stubHistory) TransferHistory(context.Context, common.Address, common.Address, time.Duration) ([]rpcclient.AssetTransfer, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.transfers, nil
}

func newTestRoutes(gen *stubGenerator) (*Routes, *Server) {
	status := reconciler.NewStatusLog()
	rt := &Routes{
		Generator: gen,
		Gateway:   stubGateway{},
		Status:    status,
		History:   &stubHistory{},
		Token:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		User:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Version:   "test",

		MetricsEnabled: true,
	}
	s := NewServer(DefaultConfig(), zerolog.Nop())
	rt.Register(s)
	return rt, s
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	_, s := newTestRoutes(&stubGenerator{})

	rec := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "ok", out["status"])
	require.Equal(t, "test", out["version"])
}

func TestStatusEndpointIncludesRecentUpdates(t *testing.T) {
	gen := &stubGenerator{snapshot: orchestrator.Snapshot{State: orchestrator.StatePendingBlocks}}
	rt, s := newTestRoutes(gen)

	for i := 0; i < 8; i++ {
		rt.Status.Append(reconciler.StatusUpdate{
			Kind:      reconciler.KindRequest,
			Timestamp: time.Unix(int64(i), 0),
			Message:   "update",
		})
	}

	rec := do(s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Generation struct {
			State string `json:"state"`
		} `json:"generation"`
		Updates []json.RawMessage `json:"updates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, string(orchestrator.StatePendingBlocks), out.Generation.State)
	require.Len(t, out.Updates, reconciler.DisplayWindow)
}

func TestStatsEndpoint(t *testing.T) {
	_, s := newTestRoutes(&stubGenerator{})

	rec := do(s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "1234", out["prizePool"])
	require.Equal(t, "100", out["generationCost"])
	require.Equal(t, float64(3), out["blockWait"])
	require.Equal(t, "500", out["balance"])
}

func TestGenerateEndpoint(t *testing.T) {
	gen := &stubGenerator{}
	_, s := newTestRoutes(gen)

	rec := do(s, http.MethodPost, "/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, gen.generated)
}

func TestGenerateBusyIsConflict(t *testing.T) {
	gen := &stubGenerator{generateErr: orchestrator.ErrBusy}
	_, s := newTestRoutes(gen)

	rec := do(s, http.MethodPost, "/generate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGenerateInsufficientBalanceIsPaymentRequired(t *testing.T) {
	gen := &stubGenerator{generateErr: chain.ErrInsufficientBalance}
	_, s := newTestRoutes(gen)

	rec := do(s, http.MethodPost, "/generate", nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestRetryWithoutFailureIsConflict(t *testing.T) {
	gen := &stubGenerator{retryErr: orchestrator.ErrNotRetryable}
	_, s := newTestRoutes(gen)

	rec := do(s, http.MethodPost, "/generate/retry", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemixStoresReferenceAndGenerates(t *testing.T) {
	gen := &stubGenerator{}
	_, s := newTestRoutes(gen)

	png := []byte("fake png bytes")
	body, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(png),
	})
	require.NoError(t, err)

	rec := do(s, http.MethodPost, "/remix", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, png, gen.remix)
	require.Equal(t, 1, gen.generated)
}

func TestRemixRejectsBadBase64(t *testing.T) {
	gen := &stubGenerator{}
	_, s := newTestRoutes(gen)

	rec := do(s, http.MethodPost, "/remix", []byte(`{"image":"%%%not-base64%%%"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, gen.generated)
}

func TestMetricsRouteGatedByConfig(t *testing.T) {
	status := reconciler.NewStatusLog()
	rt := &Routes{
		Generator: &stubGenerator{},
		Gateway:   stubGateway{},
		Status:    status,
		Version:   "test",
	}
	s := NewServer(DefaultConfig(), zerolog.Nop())
	rt.Register(s)

	rec := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	enabled := NewServer(DefaultConfig(), zerolog.Nop())
	rt.MetricsEnabled = true
	rt.Register(enabled)

	rec = do(enabled, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	rt, s := newTestRoutes(&stubGenerator{})
	rt.History.(*stubHistory).transfers = []rpcclient.AssetTransfer{
		{Hash: "0xabc", From: "0x1111", To: "0x2222", Value: 100, Asset: "CASTER"},
	}

	rec := do(s, http.MethodGet, "/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Token     string                    `json:"token"`
		Transfers []rpcclient.AssetTransfer `json:"transfers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "Caster", out.Token)
	require.Len(t, out.Transfers, 1)
	require.Equal(t, "0xabc", out.Transfers[0].Hash)
}

func TestImageEndpoint(t *testing.T) {
	gen := &stubGenerator{}
	_, s := newTestRoutes(gen)

	rec := do(s, http.MethodGet, "/image", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	gen.lastImage = &synth.Image{PNG: []byte("png"), Prompt: "a wizard"}
	rec = do(s, http.MethodGet, "/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "a wizard", rec.Header().Get("X-Image-Prompt"))
	require.Equal(t, []byte("png"), rec.Body.Bytes())
}
