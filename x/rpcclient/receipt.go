package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipt is the subset of a transaction receipt the confirmation watcher
// needs: where the transaction landed and which logs it emitted.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	Logs        []types.Log
}

type rawReceipt struct {
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     string   `json:"blockNumber"`
	Status          string   `json:"status"`
	Logs            []rawLog `json:"logs"`
}

type rawLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// TransactionReceipt fetches the receipt for hash. A (nil, nil) return
// means the transaction is not mined yet. Never cached.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	raw, err := c.Call(ctx, "eth_getTransactionReceipt", []any{hash.Hex()}, DisableCache)
	if err != nil {
		return nil, fmt.Errorf("receipt for %s: %w", hash.Hex(), err)
	}
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var r rawReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode receipt for %s: %w", hash.Hex(), err)
	}

	block, err := parseHexUint(r.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("receipt block number: %w", err)
	}
	status, err := parseHexUint(r.Status)
	if err != nil {
		return nil, fmt.Errorf("receipt status: %w", err)
	}

	rcpt := &Receipt{
		TxHash:      hash,
		BlockNumber: block,
		Status:      status,
		Logs:        make([]types.Log, 0, len(r.Logs)),
	}
	for _, l := range r.Logs {
		entry := types.Log{
			Address:     common.HexToAddress(l.Address),
			Data:        common.FromHex(l.Data),
			TxHash:      hash,
			BlockNumber: block,
		}
		for _, topic := range l.Topics {
			entry.Topics = append(entry.Topics, common.HexToHash(topic))
		}
		rcpt.Logs = append(rcpt.Logs, entry)
	}
	return rcpt, nil
}

func parseHexUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
