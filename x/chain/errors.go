package chain

import (
	"errors"
	"strings"
)

// Contract error conditions, matching the custom errors declared in the
// CastersPixels and CASTER token ABIs.
var (
	ErrAlreadyHasPendingGeneration = errors.New("chain: already has pending generation")
	ErrInsufficientBalance         = errors.New("chain: insufficient balance")
	ErrMustWaitForBlocks           = errors.New("chain: must wait for blocks")
	ErrNoPendingGeneration         = errors.New("chain: no pending generation")
	ErrTransferFailed              = errors.New("chain: transfer failed")
	ErrInvalidTokenAddress         = errors.New("chain: invalid token address")
	ErrInvalidLPWalletAddress      = errors.New("chain: invalid lp wallet address")
	ErrBurnTransferFailed          = errors.New("chain: burn transfer failed")
	ErrWinnerTransferFailed        = errors.New("chain: winner transfer failed")
	ErrInsufficientCASTERBalance   = errors.New("chain: insufficient CASTER balance")
	ErrTransferFromFailed          = errors.New("chain: transferFrom failed")
)

// Transport and wallet error conditions.
var (
	ErrUserRejected       = errors.New("chain: transaction rejected by user")
	ErrInsufficientAllow  = errors.New("chain: insufficient allowance")
	ErrTransactionDropped = errors.New("chain: transaction dropped")
	ErrUnknownRPC         = errors.New("chain: unknown rpc error")
)

// errorPatterns maps substrings seen in wallet and node error text to the
// sentinel they mean. ABI custom-error names and the humanized revert
// strings some providers produce are both matched.
var errorPatterns = []struct {
	substr   string
	sentinel error
}{
	{"user rejected", ErrUserRejected},
	{"User rejected the request", ErrUserRejected},
	{"user denied", ErrUserRejected},
	{"insufficient allowance", ErrInsufficientAllow},
	{"AlreadyHasPendingGeneration", ErrAlreadyHasPendingGeneration},
	{"Already has pending generation", ErrAlreadyHasPendingGeneration},
	{"MustWaitForBlocks", ErrMustWaitForBlocks},
	{"Must wait for blocks", ErrMustWaitForBlocks},
	{"NoPendingGeneration", ErrNoPendingGeneration},
	{"No pending generation", ErrNoPendingGeneration},
	{"InsufficientCASTERBalance", ErrInsufficientCASTERBalance},
	{"Insufficient CASTER balance", ErrInsufficientCASTERBalance},
	{"InsufficientBalance", ErrInsufficientBalance},
	{"insufficient balance", ErrInsufficientBalance},
	{"insufficient funds", ErrInsufficientBalance},
	{"BurnTransferFailed", ErrBurnTransferFailed},
	{"WinnerTransferFailed", ErrWinnerTransferFailed},
	{"TransferFromFailed", ErrTransferFromFailed},
	{"TransferFailed", ErrTransferFailed},
	{"Transfer failed", ErrTransferFailed},
	{"InvalidTokenAddress", ErrInvalidTokenAddress},
	{"InvalidLPWalletAddress", ErrInvalidLPWalletAddress},
	{"could not be found", ErrTransactionDropped},
	{"transaction dropped", ErrTransactionDropped},
}

// MapError normalizes a raw wallet or RPC error into one of the package
// sentinels, wrapping the original for context. Unrecognized errors map to
// ErrUnknownRPC.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range knownSentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	msg := err.Error()
	for _, p := range errorPatterns {
		if strings.Contains(msg, p.substr) {
			return errors.Join(p.sentinel, err)
		}
	}
	return errors.Join(ErrUnknownRPC, err)
}

var knownSentinels = []error{
	ErrAlreadyHasPendingGeneration,
	ErrInsufficientBalance,
	ErrMustWaitForBlocks,
	ErrNoPendingGeneration,
	ErrTransferFailed,
	ErrInvalidTokenAddress,
	ErrInvalidLPWalletAddress,
	ErrBurnTransferFailed,
	ErrWinnerTransferFailed,
	ErrInsufficientCASTERBalance,
	ErrTransferFromFailed,
	ErrUserRejected,
	ErrInsufficientAllow,
	ErrTransactionDropped,
	ErrUnknownRPC,
}
