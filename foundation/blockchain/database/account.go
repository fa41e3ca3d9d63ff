package database

import (
	"crypto/ecdsa"

	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// addressLength is the number of hex characters in an address, the hex
// encoding of a sha256 hash.
const addressLength = 64

// PublicKeyToAddress converts the public key to an address value.
func PublicKeyToAddress(pk ecdsa.PublicKey) string {
	return PublicKeyBytesToAddress(signature.PublicKeyBytes(&pk))
}

// PublicKeyBytesToAddress converts the compressed public key to an
// address value.
func PublicKeyBytesToAddress(pk []byte) string {
	return signature.Hash(pk)
}

// IsAddress verifies whether the underlying data represents a valid
// address derived from a public key.
func IsAddress(a string) bool {
	if len(a) != addressLength {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid lowercase hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}

// =============================================================================

// Wallet holds the key material for an account that can sign transactions.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	Address    string
}

// NewWallet generates a new key pair and derives the address for it.
func NewWallet() (Wallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return Wallet{}, err
	}

	return WalletFromKey(privateKey), nil
}

// WalletFromKey constructs a wallet for an existing private key.
func WalletFromKey(privateKey *ecdsa.PrivateKey) Wallet {
	return Wallet{
		PrivateKey: privateKey,
		Address:    PublicKeyToAddress(privateKey.PublicKey),
	}
}

// PublicKey returns the compressed public key for the wallet.
func (w Wallet) PublicKey() []byte {
	return signature.PublicKeyBytes(&w.PrivateKey.PublicKey)
}
