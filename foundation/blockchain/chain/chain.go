// Package chain maintains the ordered set of blocks that make up the
// blockchain along with the pool of transactions waiting to be mined.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/mempool"
)

// Set of errors returned by the chain.
var (
	ErrInvalidTransaction = errors.New("transaction rejected")
	ErrEmptyChain         = errors.New("chain has no blocks")
	ErrHashMismatch       = errors.New("stored hash does not match block contents")
	ErrBrokenLink         = errors.New("previous hash does not match parent block")
)

// EventHandler defines a function that is called when events
// occur in the processing of the chain.
type EventHandler func(v string, args ...any)

// =============================================================================

// Acceptance describes what happened to a block received from the network.
type Acceptance int

// Set of outcomes for a remote block.
const (
	Appended Acceptance = iota + 1 // The block was the next block and was added.
	Behind                         // The block is ahead of us, fork resolution is needed.
	Ignored                        // The block is at or below our latest block.
)

// String implements the fmt.Stringer interface.
func (a Acceptance) String() string {
	switch a {
	case Appended:
		return "appended"
	case Behind:
		return "behind"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// =============================================================================

// Chain manages the blocks and the mempool. A Chain is not safe for
// concurrent use, the owner must serialize access to it.
type Chain struct {
	blocks     []database.Block
	mempool    *mempool.Mempool
	difficulty uint
	evHandler  EventHandler
}

// New constructs a chain holding only the genesis block.
func New(gen genesis.Genesis, evHandler EventHandler) *Chain {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Chain{
		blocks:     []database.Block{GenesisBlock(gen)},
		mempool:    mempool.New(),
		difficulty: gen.Difficulty,
		evHandler:  ev,
	}
}

// GenesisBlock constructs the fixed first block of the chain. The genesis
// block is never mined.
func GenesisBlock(gen genesis.Genesis) database.Block {
	return database.NewBlockAt(0, gen.Date.UTC().Unix(), nil, database.GenesisPrevHash)
}

// SubmitTransaction adds a valid transaction to the mempool.
func (c *Chain) SubmitTransaction(tx database.Tx) error {
	if err := tx.Validate(); err != nil {
		c.evHandler("chain: SubmitTransaction: REJECTED: tx[%s]: %s", tx, err)
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	n, err := c.mempool.Add(tx)
	if err != nil {
		c.evHandler("chain: SubmitTransaction: REJECTED: tx[%s]: %s", tx, err)
		return err
	}

	c.evHandler("chain: SubmitTransaction: accepted: tx[%s]: mempool[%d]", tx, n)

	return nil
}

// MineNextBlock takes every pending transaction, seals them into the next
// block by solving the POW puzzle and appends the block. The mempool is
// only cleared once the block is sealed, a cancelled run leaves it intact.
func (c *Chain) MineNextBlock(ctx context.Context) (database.Block, error) {
	latest := c.blocks[len(c.blocks)-1]
	trans := c.mempool.Copy()

	c.evHandler("chain: MineNextBlock: MINING: blk[%d]: txs[%d]", len(c.blocks), len(trans))

	block := database.NewBlock(uint64(len(c.blocks)), trans, latest.Hash)
	if err := block.Mine(ctx, c.difficulty, c.evHandler); err != nil {
		return database.Block{}, err
	}

	c.blocks = append(c.blocks, block)
	c.mempool.Delete(trans...)

	return block.Clone(), nil
}

// IsValid reports whether every block links to its parent and carries a
// hash matching its contents.
func (c *Chain) IsValid() bool {
	return ValidateBlocks(c.blocks) == nil
}

// Validate is IsValid with a diagnostic for the first failing block.
func (c *Chain) Validate() error {
	return ValidateBlocks(c.blocks)
}

// AcceptRemoteBlock adds a block received from the network if it is the
// next block in the chain. The block's previous hash is not checked against
// our latest block here, a later Validate call catches a bad link.
func (c *Chain) AcceptRemoteBlock(block database.Block) Acceptance {
	next := uint64(len(c.blocks))

	switch {
	case block.Index == next:
		c.blocks = append(c.blocks, block.Clone())
		c.mempool.Delete(block.Transactions...)
		c.evHandler("chain: AcceptRemoteBlock: appended: blk[%d]", block.Index)
		return Appended

	case block.Index > next:
		c.evHandler("chain: AcceptRemoteBlock: behind: blk[%d]: next[%d]", block.Index, next)
		return Behind

	default:
		c.evHandler("chain: AcceptRemoteBlock: ignored: blk[%d]: next[%d]", block.Index, next)
		return Ignored
	}
}

// ReplaceIfLonger adopts the candidate blocks when the candidate is valid
// and strictly longer than the current chain. Ties are never replaced.
func (c *Chain) ReplaceIfLonger(candidate []database.Block) bool {
	if len(candidate) <= len(c.blocks) {
		c.evHandler("chain: ReplaceIfLonger: kept: candidate[%d]: current[%d]", len(candidate), len(c.blocks))
		return false
	}

	if err := ValidateBlocks(candidate); err != nil {
		c.evHandler("chain: ReplaceIfLonger: REJECTED: candidate[%d]: %s", len(candidate), err)
		return false
	}

	c.blocks = database.CloneBlocks(candidate)

	// Anything waiting in the mempool that is now part of the chain
	// would be mined a second time.
	for _, block := range c.blocks {
		c.mempool.Delete(block.Transactions...)
	}

	c.evHandler("chain: ReplaceIfLonger: replaced: length[%d]: latest[%s]", len(c.blocks), c.blocks[len(c.blocks)-1].Hash)

	return true
}

// =============================================================================

// Blocks returns a copy of the blocks in the chain.
func (c *Chain) Blocks() []database.Block {
	return database.CloneBlocks(c.blocks)
}

// Length returns the number of blocks in the chain.
func (c *Chain) Length() int {
	return len(c.blocks)
}

// LatestBlock returns a copy of the last block in the chain.
func (c *Chain) LatestBlock() database.Block {
	return c.blocks[len(c.blocks)-1].Clone()
}

// Mempool returns a copy of the pending transactions in insertion order.
func (c *Chain) Mempool() []database.Tx {
	return c.mempool.Copy()
}

// MempoolLength returns the number of pending transactions.
func (c *Chain) MempoolLength() int {
	return c.mempool.Count()
}

// LookupTransaction finds a pending transaction by its content hash.
func (c *Chain) LookupTransaction(hash string) (database.Tx, bool) {
	return c.mempool.Lookup(hash)
}

// Difficulty returns the number of leading zeros required of a mined block.
func (c *Chain) Difficulty() uint {
	return c.difficulty
}

// =============================================================================

// ValidateBlocks walks the blocks checking each stored hash against the
// block contents and each previous hash against the parent block. The
// genesis block is exempt from the parent check. The POW of historical
// blocks is not checked again, it was enforced when they were mined.
func ValidateBlocks(blocks []database.Block) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}

	for i, block := range blocks {
		if !block.IsHashConsistent() {
			return fmt.Errorf("block %d: %w", i, ErrHashMismatch)
		}

		if i > 0 && block.PrevHash != blocks[i-1].Hash {
			return fmt.Errorf("block %d: %w", i, ErrBrokenLink)
		}
	}

	return nil
}
