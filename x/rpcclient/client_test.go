package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// --- test doubles ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }
func (c *fakeClock) Now() time.Time       { c.mu.Lock(); defer c.mu.Unlock(); return c.now }
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func rpcServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func resultResponse(result any) string {
	encoded, _ := json.Marshal(result)
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"result":%s}`, encoded)
}

// --- tests ---

func TestCallCachesWithinTTL(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		fmt.Fprint(w, resultResponse("0x2a"))
	})

	clock := newFakeClock(time.Unix(1000, 0))
	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)

	ctx := context.Background()
	params := []any{"0xabc", "latest"}

	_, err = client.Call(ctx, "eth_call", params, 30*time.Second)
	require.NoError(t, err)
	_, err = client.Call(ctx, "eth_call", params, 30*time.Second)
	require.NoError(t, err)

	mu.Lock()
	require.Equal(t, 1, calls, "second call within TTL must hit the cache")
	mu.Unlock()

	clock.Advance(31 * time.Second)
	_, err = client.Call(ctx, "eth_call", params, 30*time.Second)
	require.NoError(t, err)

	mu.Lock()
	require.Equal(t, 2, calls, "call after TTL expiry must hit the network")
	mu.Unlock()
}

func TestCacheKeyIsCanonicalPerParams(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		fmt.Fprint(w, resultResponse("0x1"))
	})

	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.Call(ctx, "eth_call", []any{"a", "b"}, time.Minute)
	require.NoError(t, err)
	_, err = client.Call(ctx, "eth_call", []any{"b", "a"}, time.Minute)
	require.NoError(t, err)

	mu.Lock()
	require.Equal(t, 2, calls, "different param order must not share a cache entry")
	mu.Unlock()
}

func TestBackoffBoundUnder429(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	})

	sleeper := &recordingSleeper{}
	client, err := New(
		Config{Endpoint: srv.URL, MaxRetries: 5, RetryBaseDelay: time.Second},
		zerolog.Nop(),
		WithSleep(sleeper.Sleep),
	)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "eth_blockNumber", nil, DisableCache)
	require.ErrorIs(t, err, ErrRetriesExhausted)

	mu.Lock()
	require.Equal(t, 6, attempts, "maxRetries+1 attempts expected")
	mu.Unlock()

	require.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, sleeper.delays, "delays must double per attempt")
}

func TestSemanticRPCErrorNotRetried(t *testing.T) {
	t.Parallel()

	var attempts int
	var mu sync.Mutex
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`)
	})

	sleeper := &recordingSleeper{}
	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop(), WithSleep(sleeper.Sleep))
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "eth_call", []any{"x"}, DisableCache)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32000, rpcErr.Code)
	require.Equal(t, "execution reverted", rpcErr.Message)

	mu.Lock()
	require.Equal(t, 1, attempts)
	mu.Unlock()
	require.Empty(t, sleeper.delays)
}

func TestErrorResultsAreNotCached(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"nope"}}`)
			return
		}
		fmt.Fprint(w, resultResponse("0x1"))
	})

	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.Call(ctx, "eth_call", []any{"x"}, time.Minute)
	require.Error(t, err)

	result, err := client.Call(ctx, "eth_call", []any{"x"}, time.Minute)
	require.NoError(t, err)
	require.JSONEq(t, `"0x1"`, string(result))
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(0, 0))
	cache := newTTLCache(clock.Now)

	cache.Set("a", json.RawMessage(`"1"`), 10*time.Second)
	cache.Set("b", json.RawMessage(`"2"`), time.Hour)
	require.Equal(t, 2, cache.Len())

	clock.Advance(30 * time.Second)
	require.Equal(t, 1, cache.Sweep())
	require.Equal(t, 1, cache.Len())

	_, ok := cache.Get("b", time.Hour)
	require.True(t, ok)
}

func TestDisableCacheAlwaysHitsNetwork(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		fmt.Fprint(w, resultResponse("0x2a"))
	})

	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.Call(ctx, "eth_blockNumber", nil, DisableCache)
	require.NoError(t, err)
	_, err = client.Call(ctx, "eth_blockNumber", nil, DisableCache)
	require.NoError(t, err)

	mu.Lock()
	require.Equal(t, 2, calls, "DisableCache must bypass the cache")
	mu.Unlock()
}

func TestTokenBalanceDecodesPaddedResult(t *testing.T) {
	t.Parallel()

	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resultResponse("0x00000000000000000000000000000000000000000000003635c9adc5dea00000"))
	})

	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	balance, err := client.TokenBalance(context.Background(),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		DisableCache)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", balance.String())
}

func TestTokenNameDecodesABIString(t *testing.T) {
	t.Parallel()

	// offset word, length word, then "Caster" padded to 32 bytes
	encoded := "0x" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000006" +
		"4361737465720000000000000000000000000000000000000000000000000000"
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resultResponse(encoded))
	})

	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	name, err := client.TokenName(context.Background(),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		DisableCache)
	require.NoError(t, err)
	require.Equal(t, "Caster", name)
}

func TestTransferHistoryDecodesTransfers(t *testing.T) {
	t.Parallel()

	var gotMethod string
	srv := rpcServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotMethod = req.Method
		fmt.Fprint(w, resultResponse(map[string]any{
			"transfers": []map[string]any{
				{
					"blockNum": "0x64",
					"hash":     "0xabc",
					"from":     "0x1111111111111111111111111111111111111111",
					"to":       "0x2222222222222222222222222222222222222222",
					"value":    100.5,
					"asset":    "CASTER",
				},
			},
		}))
	})

	client, err := New(Config{Endpoint: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	transfers, err := client.TransferHistory(context.Background(),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		DisableCache)
	require.NoError(t, err)
	require.Equal(t, "alchemy_getAssetTransfers", gotMethod)
	require.Len(t, transfers, 1)
	require.Equal(t, "0xabc", transfers[0].Hash)
	require.Equal(t, 100.5, transfers[0].Value)
	require.Equal(t, "CASTER", transfers[0].Asset)
}
