package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Function selectors for the ERC-20 reads this client issues directly.
const (
	selBalanceOf = "0x70a08231"
	selName      = "0x06fdde03"
)

// TokenBalance reads balanceOf(holder) on the given token via eth_call.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address, ttl time.Duration) (*big.Int, error) {
	data := selBalanceOf + padAddress(holder)
	raw, err := c.Call(ctx, "eth_call", []any{
		map[string]any{"to": token.Hex(), "data": data},
		"latest",
	}, ttl)
	if err != nil {
		return nil, fmt.Errorf("token balance of %s: %w", holder.Hex(), err)
	}
	return decodeQuantity(raw)
}

// TokenName reads name() on the given token.
func (c *Client) TokenName(ctx context.Context, token common.Address, ttl time.Duration) (string, error) {
	raw, err := c.Call(ctx, "eth_call", []any{
		map[string]any{"to": token.Hex(), "data": selName},
		"latest",
	}, ttl)
	if err != nil {
		return "", err
	}
	var hexData string
	if err := json.Unmarshal(raw, &hexData); err != nil {
		return "", fmt.Errorf("decode name result: %w", err)
	}
	return decodeABIString(common.FromHex(hexData))
}

// BlockNumber returns the current chain head height. Never cached: a stale
// height would delay block-gated completion.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.Call(ctx, "eth_blockNumber", nil, DisableCache)
	if err != nil {
		return 0, err
	}
	var hexNum string
	if err := json.Unmarshal(raw, &hexNum); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return strconv.ParseUint(strings.TrimPrefix(hexNum, "0x"), 16, 64)
}

// AssetTransfer is one entry of the transfer history for an address.
type AssetTransfer struct {
	BlockNum string  `json:"blockNum"`
	Hash     string  `json:"hash"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Value    float64 `json:"value"`
	Asset    string  `json:"asset"`
}

type assetTransfersResult struct {
	Transfers []AssetTransfer `json:"transfers"`
}

// TransferHistory lists ERC-20 transfers of the token sent by the address,
// using the provider's alchemy_getAssetTransfers extension.
func (c *Client) TransferHistory(ctx context.Context, token, from common.Address, ttl time.Duration) ([]AssetTransfer, error) {
	raw, err := c.Call(ctx, "alchemy_getAssetTransfers", []any{
		map[string]any{
			"fromBlock":         "0x0",
			"toBlock":           "latest",
			"category":          []string{"erc20"},
			"withMetadata":      true,
			"excludeZeroValue":  true,
			"contractAddresses": []string{token.Hex()},
			"fromAddress":       from.Hex(),
		},
	}, ttl)
	if err != nil {
		return nil, fmt.Errorf("transfer history for %s: %w", from.Hex(), err)
	}
	var result assetTransfersResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode transfer history: %w", err)
	}
	return result.Transfers, nil
}

// padAddress left-pads an address to a 32-byte ABI word, without 0x prefix.
func padAddress(addr common.Address) string {
	return strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x"))
}

// decodeQuantity parses a 0x-prefixed, zero-padded eth_call result into a
// big integer.
func decodeQuantity(raw json.RawMessage) (*big.Int, error) {
	var hexData string
	if err := json.Unmarshal(raw, &hexData); err != nil {
		return nil, fmt.Errorf("decode quantity: %w", err)
	}
	return new(big.Int).SetBytes(common.FromHex(hexData)), nil
}

// decodeABIString unpacks a solidity string return value: offset word,
// length word, then the bytes.
func decodeABIString(data []byte) (string, error) {
	if len(data) < 64 {
		return "", fmt.Errorf("abi string too short: %d bytes", len(data))
	}
	offset := new(big.Int).SetBytes(data[:32]).Uint64()
	if offset+32 > uint64(len(data)) {
		return "", fmt.Errorf("abi string offset out of range")
	}
	length := new(big.Int).SetBytes(data[offset : offset+32]).Uint64()
	start := offset + 32
	if start+length > uint64(len(data)) {
		return "", fmt.Errorf("abi string length out of range")
	}
	return string(data[start : start+length]), nil
}
