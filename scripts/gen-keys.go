// Small helper to generate a dev wallet key (secp256k1) and print
// - private key (hex), for WALLET_PRIVATE_KEY
// - Ethereum address derived from it, for user.address
package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	fmt.Printf("WALLET_PRIVATE_KEY=%x\n", crypto.FromECDSA(key))
	fmt.Printf("USER_ADDRESS=%s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
}
