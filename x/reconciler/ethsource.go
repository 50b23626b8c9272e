package reconciler

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthLogSource implements LogSource over a live node connection. The
// endpoint must support subscriptions (websocket).
type EthLogSource struct {
	client *ethclient.Client
}

func NewEthLogSource(client *ethclient.Client) *EthLogSource {
	return &EthLogSource{client: client}
}

func (s *EthLogSource) SubscribeLogs(ctx context.Context, contract common.Address) (<-chan types.Log, Subscription, error) {
	logs := make(chan types.Log, 64)
	query := ethereum.FilterQuery{Addresses: []common.Address{contract}}
	sub, err := s.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, nil, err
	}
	return logs, ethSubscription{sub}, nil
}

type ethSubscription struct {
	inner ethereum.Subscription
}

func (s ethSubscription) Unsubscribe() {
	s.inner.Unsubscribe()
}

var _ LogSource = (*EthLogSource)(nil)
