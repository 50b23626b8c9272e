package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	pixelsABIOnce sync.Once
	pixelsABI     abi.ABI
)

// PixelsABI returns the parsed CastersPixels contract ABI. The JSON is
// embedded, so a parse failure is a build defect and panics.
func PixelsABI() abi.ABI {
	pixelsABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(castersPixelsABIJSON))
		if err != nil {
			panic("chain: embedded CastersPixels ABI does not parse: " + err.Error())
		}
		pixelsABI = parsed
	})
	return pixelsABI
}
