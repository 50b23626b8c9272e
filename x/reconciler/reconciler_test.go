package reconciler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/casters-pixels/generator/x/chain"
)

// --- test doubles ---

type chanLogSource struct {
	logs chan types.Log
}

func newChanLogSource() *chanLogSource {
	return &chanLogSource{logs: make(chan types.Log, 16)}
}

func (s *chanLogSource) SubscribeLogs(_ context.Context, _ common.Address) (<-chan types.Log, Subscription, error) {
	return s.logs, noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func requestedLog(t *testing.T, user common.Address, blockNumber uint64) types.Log {
	t.Helper()
	ev := chain.PixelsABI().Events["GenerationRequested"]
	data, err := ev.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(blockNumber))
	require.NoError(t, err)
	return types.Log{
		Topics: []common.Hash{ev.ID, common.BytesToHash(user.Bytes())},
		Data:   data,
		TxHash: common.HexToHash("0x01"),
	}
}

func completeLog(t *testing.T, user common.Address, legendary bool, reward int64) types.Log {
	t.Helper()
	ev := chain.PixelsABI().Events["GenerationComplete"]
	data, err := ev.Inputs.NonIndexed().Pack(legendary, big.NewInt(reward))
	require.NoError(t, err)
	return types.Log{
		Topics: []common.Hash{ev.ID, common.BytesToHash(user.Bytes())},
		Data:   data,
		TxHash: common.HexToHash("0x02"),
	}
}

func prizePoolLog(t *testing.T, amount int64) types.Log {
	t.Helper()
	ev := chain.PixelsABI().Events["PrizePoolUpdated"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(amount))
	require.NoError(t, err)
	return types.Log{
		Topics: []common.Hash{ev.ID},
		Data:   data,
	}
}

func collectUpdates(t *testing.T, source *chanLogSource, filter *common.Address, send []types.Log, want int) []StatusUpdate {
	t.Helper()

	got := make(chan StatusUpdate, 16)
	handler := func(u StatusUpdate) { got <- u }

	opts := []Option{}
	if filter != nil {
		opts = append(opts, WithUserFilter(*filter))
	}
	r, err := New(source, common.HexToAddress("0xc0"), handler, zerolog.Nop(), opts...)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	for _, entry := range send {
		source.logs <- entry
	}

	updates := make([]StatusUpdate, 0, want)
	timeout := time.After(2 * time.Second)
	for len(updates) < want {
		select {
		case u := <-got:
			updates = append(updates, u)
		case <-timeout:
			t.Fatalf("timed out waiting for updates, got %d of %d", len(updates), want)
		}
	}

	// Give any stray (unexpectedly unfiltered) update a moment to arrive.
	select {
	case u := <-got:
		t.Fatalf("unexpected extra update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
	return updates
}

// --- tests ---

func TestEmitsUpdatesInDeliveryOrder(t *testing.T) {
	t.Parallel()

	user := common.HexToAddress("0xaa00000000000000000000000000000000000001")
	source := newChanLogSource()

	updates := collectUpdates(t, source, nil, []types.Log{
		requestedLog(t, user, 500),
		prizePoolLog(t, 9000),
		completeLog(t, user, false, 0),
	}, 3)

	require.Equal(t, KindRequest, updates[0].Kind)
	require.Equal(t, uint64(500), *updates[0].BlockNumber)
	require.Equal(t, KindPrizePool, updates[1].Kind)
	require.Equal(t, "9000", updates[1].PrizePool.String())
	require.Equal(t, KindComplete, updates[2].Kind)
}

func TestUserFilterDropsOtherUsers(t *testing.T) {
	t.Parallel()

	me := common.HexToAddress("0xAA00000000000000000000000000000000000001")
	other := common.HexToAddress("0xBB00000000000000000000000000000000000002")
	// Filter built from the lowercase form; events carry the checksummed
	// address. Comparison must not care.
	filter := common.HexToAddress("0xaa00000000000000000000000000000000000001")

	source := newChanLogSource()
	updates := collectUpdates(t, source, &filter, []types.Log{
		requestedLog(t, other, 100),
		completeLog(t, other, true, 500),
		requestedLog(t, me, 200),
		prizePoolLog(t, 1234),
	}, 2)

	require.Equal(t, KindRequest, updates[0].Kind)
	require.Equal(t, me, *updates[0].Address)
	require.Equal(t, KindPrizePool, updates[1].Kind, "prize pool updates are never user-filtered")
}

func TestLegendaryCompleteCarriesReward(t *testing.T) {
	t.Parallel()

	user := common.HexToAddress("0xaa00000000000000000000000000000000000001")
	source := newChanLogSource()

	updates := collectUpdates(t, source, nil, []types.Log{
		completeLog(t, user, true, 500),
	}, 1)

	require.Equal(t, KindLegendary, updates[0].Kind)
	require.Equal(t, "500", updates[0].Reward.String())
	require.Contains(t, updates[0].Message, "Legendary")
	require.Contains(t, updates[0].Message, "500")
}

func TestNoDeduplicationAtThisLayer(t *testing.T) {
	t.Parallel()

	user := common.HexToAddress("0xaa00000000000000000000000000000000000001")
	source := newChanLogSource()
	entry := completeLog(t, user, false, 0)

	updates := collectUpdates(t, source, nil, []types.Log{entry, entry}, 2)
	require.Equal(t, updates[0].Kind, updates[1].Kind)
	require.Equal(t, *updates[0].TxHash, *updates[1].TxHash, "duplicate delivery passes through untouched")
}

func TestUnknownLogsIgnored(t *testing.T) {
	t.Parallel()

	user := common.HexToAddress("0xaa00000000000000000000000000000000000001")
	source := newChanLogSource()

	unknown := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	updates := collectUpdates(t, source, nil, []types.Log{unknown, requestedLog(t, user, 1)}, 1)
	require.Equal(t, KindRequest, updates[0].Kind)
}

func TestStatusLogRecentWindow(t *testing.T) {
	t.Parallel()

	log := NewStatusLog()
	for i := 0; i < 8; i++ {
		update := newUpdate(KindRequest, "", time.Unix(int64(i), 0))
		log.Append(update)
	}

	recent := log.Recent(DisplayWindow)
	require.Len(t, recent, DisplayWindow)
	require.Equal(t, time.Unix(3, 0), recent[0].Timestamp, "window keeps the newest entries")
	require.Equal(t, 8, log.Len(), "full history is retained")
}
