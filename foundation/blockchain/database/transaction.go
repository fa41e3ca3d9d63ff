package database

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Set of errors describing why a transaction is rejected.
var (
	ErrInvalidAmount     = errors.New("invalid transaction amount")
	ErrMissingPublicKey  = errors.New("transaction has no public key")
	ErrMissingSignature  = errors.New("transaction has no signature")
	ErrSignatureMismatch = errors.New("signature does not match transaction")
)

// =============================================================================

// Tx is a signed transfer of value between two addresses. The public key
// and signature are empty until the transaction is signed.
type Tx struct {
	FromAddress string        `json:"from_address"`         // Address derived from the sender's public key.
	ToAddress   string        `json:"to_address"`           // Address receiving the value.
	Amount      uint64        `json:"amount"`               // Value being transferred, always greater than zero.
	PublicKey   hexutil.Bytes `json:"public_key,omitempty"` // Compressed secp256k1 public key of the sender.
	Signature   hexutil.Bytes `json:"signature,omitempty"`  // Signature in the [R|S] format.
}

// NewSignedTx constructs a transaction from the wallet and signs it. A zero
// amount is rejected before any key material is used.
func NewSignedTx(wallet Wallet, toAddress string, amount uint64) (Tx, error) {
	if amount == 0 {
		return Tx{}, ErrInvalidAmount
	}

	tx := Tx{
		FromAddress: wallet.Address,
		ToAddress:   toAddress,
		Amount:      amount,
	}

	sig, err := signature.Sign(tx.digest(), wallet.PrivateKey)
	if err != nil {
		return Tx{}, fmt.Errorf("signing transaction: %w", err)
	}

	tx.PublicKey = wallet.PublicKey()
	tx.Signature = sig

	return tx, nil
}

// Validate checks the transaction carries a public key and a signature
// and that the signature was produced by that key for this transaction.
func (tx Tx) Validate() error {
	if len(tx.PublicKey) == 0 {
		return ErrMissingPublicKey
	}

	if len(tx.Signature) == 0 {
		return ErrMissingSignature
	}

	if !signature.Verify(tx.digest(), tx.PublicKey, tx.Signature) {
		return ErrSignatureMismatch
	}

	return nil
}

// Verify reports whether the transaction is valid.
func (tx Tx) Verify() bool {
	return tx.Validate() == nil
}

// Hash returns the content hash of the transaction. It identifies the
// transaction in the mempool and is never a substitute for Verify.
func (tx Tx) Hash() string {
	var buf bytes.Buffer
	buf.WriteString(tx.payload())
	buf.WriteString(hex.EncodeToString(tx.PublicKey))
	buf.WriteString(hex.EncodeToString(tx.Signature))

	return signature.Hash(buf.Bytes())
}

// Clone returns a deep copy of the transaction.
func (tx Tx) Clone() Tx {
	tx.PublicKey = bytes.Clone(tx.PublicKey)
	tx.Signature = bytes.Clone(tx.Signature)
	return tx
}

// Equals reports whether two transactions carry the same content.
func (tx Tx) Equals(other Tx) bool {
	return tx.FromAddress == other.FromAddress &&
		tx.ToAddress == other.ToAddress &&
		tx.Amount == other.Amount &&
		bytes.Equal(tx.PublicKey, other.PublicKey) &&
		bytes.Equal(tx.Signature, other.Signature)
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s->%s:%d", short(tx.FromAddress), short(tx.ToAddress), tx.Amount)
}

// =============================================================================

// payload returns the string that is hashed and signed.
func (tx Tx) payload() string {
	return fmt.Sprintf("%s|%s|%d", tx.FromAddress, tx.ToAddress, tx.Amount)
}

// digest returns the 32 byte hash of the payload.
func (tx Tx) digest() []byte {
	return signature.Digest([]byte(tx.payload()))
}

// short trims long addresses for log output.
func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// cloneTxs makes a deep copy of the set of transactions.
func cloneTxs(trans []Tx) []Tx {
	if trans == nil {
		return nil
	}

	out := make([]Tx, len(trans))
	for i, tx := range trans {
		out[i] = tx.Clone()
	}

	return out
}
