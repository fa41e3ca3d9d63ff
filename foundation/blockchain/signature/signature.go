// Package signature provides helper functions for handling the blockchain
// hashing and signature needs.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
)

// Length is the size of a signature in the [R|S] format. The recovery id
// produced by the secp256k1 signer is dropped since the public key travels
// with the transaction.
const Length = crypto.RecoveryIDOffset

// ErrInvalidSignature is returned when a freshly produced signature can't be
// verified against the key that produced it.
var ErrInvalidSignature = errors.New("invalid signature")

// =============================================================================

// Hash returns the hex encoded sha256 hash of the data.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Digest returns the 32 byte sha256 hash of the data. This is the form
// that is signed and verified.
func Digest(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// Sign uses the specified private key to sign the 32 byte digest.
func Sign(digest []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {

	// Sign the digest with the private key to produce a signature.
	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return nil, err
	}

	// Check the signature against the public key before handing it out.
	rs := sig[:Length]
	if !crypto.VerifySignature(PublicKeyBytes(&privateKey.PublicKey), digest, rs) {
		return nil, ErrInvalidSignature
	}

	return rs, nil
}

// Verify checks the [R|S] signature was produced for the digest by the
// owner of the serialized public key.
func Verify(digest []byte, publicKey []byte, sig []byte) bool {
	if len(sig) != Length || len(digest) != sha256.Size {
		return false
	}

	return crypto.VerifySignature(publicKey, digest, sig)
}

// =============================================================================

// PublicKeyBytes serializes the public key in the 33 byte compressed form.
func PublicKeyBytes(pk *ecdsa.PublicKey) []byte {
	return crypto.CompressPubkey(pk)
}

// ParsePublicKey converts the compressed form back into a public key.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	return crypto.DecompressPubkey(data)
}
