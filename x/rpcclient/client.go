package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RPCError is a well-formed JSON-RPC error object returned by the node.
// Semantic errors are never retried: the node understood the request and
// rejected it, so a retry cannot change the outcome.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrRetriesExhausted wraps the final transport failure after all backoff
// attempts were spent.
var ErrRetriesExhausted = errors.New("rpcclient: retries exhausted")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client is a caching JSON-RPC client with bounded exponential backoff on
// rate limiting and transport failures.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *ttlCache
	log        zerolog.Logger
	metrics    *Metrics

	// sleep is injectable so backoff is testable without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.cache = newTTLCache(now) }
}

// WithSleep overrides the backoff sleep function.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// New constructs a Client for the configured endpoint.
func New(cfg Config, log zerolog.Logger, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("rpcclient: endpoint is required")
	}
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}

	c := &Client{
		cfg:     cfg,
		cache:   newTTLCache(time.Now),
		log:     log.With().Str("component", "rpc-client").Logger(),
		metrics: newMetrics(),
		sleep:   ctxSleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return c, nil
}

// Start runs the cache sweeper until the context is canceled. Optional:
// the client works without it, the cache just never shrinks.
func (c *Client) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if dropped := c.cache.Sweep(); dropped > 0 {
					c.log.Debug().Int("dropped", dropped).Int("remaining", c.cache.Len()).Msg("swept rpc cache")
				}
			}
		}
	}()
}

// cacheKey canonicalizes (method, params). encoding/json preserves slice
// order, so identical calls always map to the same key.
func cacheKey(method string, params []any) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("rpcclient: encode params: %w", err)
	}
	return method + ":" + string(encoded), nil
}

// Call performs a JSON-RPC call, serving from cache when a result for the
// same (method, params) is younger than ttl. Pass ttl <= 0 for the
// configured default; use DisableCache to force a network round trip.
func (c *Client) Call(ctx context.Context, method string, params []any, ttl time.Duration) (json.RawMessage, error) {
	if ttl <= 0 && ttl != DisableCache {
		ttl = c.cfg.CacheTTL
	}

	key, err := cacheKey(method, params)
	if err != nil {
		return nil, err
	}

	if ttl != DisableCache {
		if cached, ok := c.cache.Get(key, ttl); ok {
			c.metrics.CacheHits.Inc()
			return cached, nil
		}
		c.metrics.CacheMisses.Inc()
	}

	result, err := c.doWithRetry(ctx, method, params)
	if err != nil {
		return nil, err
	}

	if ttl != DisableCache {
		c.cache.Set(key, result, ttl)
	}
	return result, nil
}

// DisableCache as the ttl argument bypasses the cache entirely.
const DisableCache = time.Duration(-1)

func (c *Client) doWithRetry(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	var lastErr error
	delay := c.cfg.RetryBaseDelay

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.Retries.Inc()
			c.log.Warn().
				Str("method", method).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying rpc call")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		result, retryable, err := c.doOnce(ctx, method, params)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	c.metrics.Failures.WithLabelValues(method).Inc()
	return nil, fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, method, lastErr)
}

// doOnce performs a single round trip. The bool reports whether the failure
// is retryable (429 or transport error).
func (c *Client) doOnce(ctx context.Context, method string, params []any) (json.RawMessage, bool, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, false, fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("rpcclient: prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("rpcclient: post %s: %w", method, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("rpcclient: rate limited (429)")
	}
	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, false, fmt.Errorf("rpcclient: %s returned %s: %s", method, res.Status, string(msg))
	}

	var parsed rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("rpcclient: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, parsed.Error
	}
	return parsed.Result, false, nil
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
