// Package webhook receives Alchemy-style notify callbacks and forwards
// transaction lifecycle notifications to the orchestrator. The webhook is
// an auxiliary signal path: the poller and the event subscription remain
// authoritative, so a missed callback only delays, never loses, progress.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/casters-pixels/generator/metrics"
	"github.com/casters-pixels/generator/x/orchestrator"
)

// Notification types delivered by the provider.
const (
	TypeAddressActivity    = "ADDRESS_ACTIVITY"
	TypeMinedTransaction   = "MINED_TRANSACTION"
	TypeDroppedTransaction = "DROPPED_TRANSACTION"
)

// ConfirmationSink is where mined and dropped transactions are forwarded.
// *orchestrator.Orchestrator satisfies it.
type ConfirmationSink interface {
	HandleTxConfirmed(ctx context.Context, conf orchestrator.TxConfirmation)
	HandleTxDropped(hash common.Hash)
}

// Notification is the inbound payload envelope.
type Notification struct {
	Type        string       `json:"type"`
	Event       *Activity    `json:"event,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

// Activity describes one token transfer in an ADDRESS_ACTIVITY callback.
type Activity struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Value       string `json:"value"`
}

// Transaction identifies the subject of a mined or dropped callback.
type Transaction struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
}

type ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type handlerMetrics struct {
	Received *prometheus.CounterVec
	Rejected prometheus.Counter
}

var (
	metricsOnce sync.Once
	sharedMx    *handlerMetrics
)

func getMetrics() *handlerMetrics {
	metricsOnce.Do(func() {
		reg := metrics.NewComponentRegistry("webhook")
		sharedMx = &handlerMetrics{
			Received: reg.NewCounterVec(prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Webhook notifications received, by type",
			}, []string{"type"}),
			Rejected: reg.NewCounter(prometheus.CounterOpts{
				Name: "rejected_total",
				Help: "Webhook requests rejected for bad signature or payload",
			}),
		}
	})
	return sharedMx
}

// Handler is the http.Handler for POST /webhook.
type Handler struct {
	cfg     Config
	sink    ConfirmationSink
	token   common.Address
	log     zerolog.Logger
	metrics *handlerMetrics
}

var _ http.Handler = (*Handler)(nil)

// NewHandler constructs the webhook endpoint.
func NewHandler(cfg Config, sink ConfirmationSink, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		sink:    sink,
		token:   common.HexToAddress(cfg.TokenAddress),
		log:     log.With().Str("component", "webhook").Logger(),
		metrics: getMetrics(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.reject(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.cfg.SigningKey != "" && !h.verifySignature(body, r.Header.Get("X-Alchemy-Signature")) {
		h.reject(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		h.reject(w, http.StatusBadRequest, "invalid payload")
		return
	}
	h.metrics.Received.WithLabelValues(n.Type).Inc()

	switch n.Type {
	case TypeAddressActivity:
		h.handleActivity(n.Event)
	case TypeMinedTransaction:
		if n.Transaction == nil || n.Transaction.Hash == "" {
			h.reject(w, http.StatusInternalServerError, "mined notification without transaction")
			return
		}
		h.sink.HandleTxConfirmed(r.Context(), orchestrator.TxConfirmation{
			Hash:        common.HexToHash(n.Transaction.Hash),
			BlockNumber: parseBlockNumber(n.Transaction.BlockNumber),
		})
	case TypeDroppedTransaction:
		if n.Transaction == nil || n.Transaction.Hash == "" {
			h.reject(w, http.StatusInternalServerError, "dropped notification without transaction")
			return
		}
		h.sink.HandleTxDropped(common.HexToHash(n.Transaction.Hash))
	default:
		h.log.Debug().Str("type", n.Type).Msg("unhandled notification type")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack{Success: true})
}

// handleActivity logs transfer activity. Transfers into the token contract
// are burns; large transfers out of the user hint at a generation payment.
// Neither drives state, the contract events do.
func (h *Handler) handleActivity(a *Activity) {
	if a == nil {
		return
	}
	to := common.HexToAddress(a.ToAddress)
	if h.token != (common.Address{}) && to == h.token {
		h.log.Info().
			Str("from", a.FromAddress).
			Str("value", a.Value).
			Msg("token burn detected")
		return
	}
	h.log.Debug().
		Str("from", a.FromAddress).
		Str("to", a.ToAddress).
		Str("value", a.Value).
		Msg("token transfer")
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.cfg.SigningKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "0x")))
}

func (h *Handler) reject(w http.ResponseWriter, code int, reason string) {
	h.metrics.Rejected.Inc()
	h.log.Warn().Int("code", code).Str("reason", reason).Msg("webhook rejected")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ack{Success: false, Error: reason})
}

// parseBlockNumber accepts both hex-quantity and decimal block numbers.
func parseBlockNumber(s string) uint64 {
	if s == "" {
		return 0
	}
	n := new(big.Int)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if _, ok := n.SetString(s[2:], 16); !ok {
			return 0
		}
	} else if _, ok := n.SetString(s, 10); !ok {
		return 0
	}
	return n.Uint64()
}
