// Package database defines the blocks and transactions that make up the
// blockchain along with the proof of work rules for sealing a block.
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
)

// GenesisPrevHash is the previous hash recorded in the genesis block.
const GenesisPrevHash = "0"

// =============================================================================

// Block represents a group of transactions batched together and linked to
// the block before it by hash.
type Block struct {
	Index        uint64 `json:"index"`         // Position in the chain, the genesis block is 0.
	Timestamp    int64  `json:"timestamp"`     // Time the block was created in unix seconds.
	Transactions []Tx   `json:"transactions"`  // Ordered set of transactions, the order is part of the hash.
	PrevHash     string `json:"previous_hash"` // Hash of the previous block in the chain.
	Hash         string `json:"hash"`          // Hash of this block's fields including the nonce.
	Nonce        uint64 `json:"nonce"`         // Value identified to solve the hash solution.
}

// NewBlock constructs an unmined block stamped with the current time.
func NewBlock(index uint64, trans []Tx, prevHash string) Block {
	return NewBlockAt(index, time.Now().UTC().Unix(), trans, prevHash)
}

// NewBlockAt constructs an unmined block with the specified timestamp.
func NewBlockAt(index uint64, timestamp int64, trans []Tx, prevHash string) Block {
	b := Block{
		Index:        index,
		Timestamp:    timestamp,
		Transactions: cloneTxs(trans),
		PrevHash:     prevHash,
		Nonce:        0,
	}
	b.Hash = b.CalculateHash()

	return b
}

// Mine performs the work of finding a nonce that produces a hash with
// difficulty leading zeros. Pointer semantics are being used since the
// nonce and hash are being discovered. The search only ends when a
// solution is found or the context is cancelled.
//
// The nonce is not bounded. Wrapping past the max uint64 value is not
// reachable for any difficulty this ledger runs with.
func (b *Block) Mine(ctx context.Context, difficulty uint, evHandler func(v string, args ...any)) error {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	ev("database: Mine: MINING: started: blk[%d]: difficulty[%d]", b.Index, difficulty)
	defer ev("database: Mine: MINING: completed: blk[%d]", b.Index)

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: Mine: MINING: attempts[%d]", attempts)
		}

		// Did we get cancelled trying to solve the problem.
		if err := ctx.Err(); err != nil {
			b.Hash = b.CalculateHash()
			ev("database: Mine: MINING: CANCELLED")
			return err
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.CalculateHash()
		if IsHashSolved(difficulty, hash) {
			b.Hash = hash
			ev("database: Mine: MINING: SOLVED: blk[%d]: hash[%s]: attempts[%d]", b.Index, hash, attempts)
			return nil
		}

		b.Nonce++
	}
}

// IsValid recomputes the hash from the stored fields and checks it matches
// the stored hash and solves the puzzle for the specified difficulty.
func (b Block) IsValid(difficulty uint) bool {
	return b.IsHashConsistent() && IsHashSolved(difficulty, b.Hash)
}

// IsHashConsistent reports whether the stored hash matches the hash
// recomputed from the block's fields. Any tampering with a field that
// leaves the hash alone is caught here.
func (b Block) IsHashConsistent() bool {
	return b.Hash == b.CalculateHash()
}

// CalculateHash returns the hash of the index, timestamp, transactions,
// previous hash and nonce, in that order.
func (b Block) CalculateHash() string {
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatUint(b.Index, 10))
	buf.WriteString(strconv.FormatInt(b.Timestamp, 10))
	buf.Write(serializeTxs(b.Transactions))
	buf.WriteString(b.PrevHash)
	buf.WriteString(strconv.FormatUint(b.Nonce, 10))

	return signature.Hash(buf.Bytes())
}

// Clone returns a deep copy of the block so it can be shared across
// chains without aliasing the transactions.
func (b Block) Clone() Block {
	b.Transactions = cloneTxs(b.Transactions)
	return b
}

// =============================================================================

// IsHashSolved checks the hash to make sure it complies with
// the POW rules. We need to match a difficulty number of 0's.
func IsHashSolved(difficulty uint, hash string) bool {
	const match = "0000000000000000000000000000000000000000000000000000000000000000"

	if difficulty > uint(len(match)) || uint(len(hash)) < difficulty {
		return false
	}

	return hash[:difficulty] == match[:difficulty]
}

// CloneBlocks makes a deep copy of the set of blocks.
func CloneBlocks(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}

	return out
}

// serializeTxs produces the canonical form of the transactions that goes
// into the block hash. Field order and list order are preserved and an
// empty list always serializes the same way.
func serializeTxs(trans []Tx) []byte {
	if len(trans) == 0 {
		return []byte("[]")
	}

	data, err := json.Marshal(trans)
	if err != nil {
		return nil
	}

	return data
}
