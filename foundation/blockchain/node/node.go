// Package node is the core API for a network participant. A node owns one
// chain and a set of peers and applies the rules for relaying transactions,
// receiving blocks and resolving forks.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardanlabs/powledger/foundation/blockchain/chain"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/ardanlabs/powledger/foundation/blockchain/registry"
)

// Set of errors returned by the node.
var (
	ErrAddressMismatch = errors.New("public key does not match from address")
	ErrDelivery        = errors.New("transaction recorded but not delivered")
	ErrNoRegistry      = errors.New("node requires a registry")
	ErrNoSource        = errors.New("no source to resolve fork from")
)

// EventHandler defines a function that is called when events
// occur in the processing of the node.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for background mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
}

// Receiver represents a peer that accepts transactions.
type Receiver interface {
	ReceiveTransaction(tx database.Tx) error
}

// Source represents a peer that can provide its full chain for
// fork resolution.
type Source interface {
	FetchChain(ctx context.Context) ([]database.Block, error)
}

// BlockReceiver represents a peer that accepts proposed blocks. The from
// argument identifies where the receiver can fetch the proposer's chain.
type BlockReceiver interface {
	ReceiveBlock(ctx context.Context, block database.Block, from Source) (Result, error)
}

// =============================================================================

// Result describes what a node did with a received block.
type Result int

// Set of outcomes for a received block.
const (
	Appended      Result = iota + 1 // The block extended the chain.
	ChainReplaced                   // The block was ahead and the sender's chain was adopted.
	ChainKept                       // The block was ahead but the sender's chain was not adopted.
	Ignored                         // The block was at or below our latest block.
)

var results = map[Result]string{
	Appended:      "appended",
	ChainReplaced: "replaced",
	ChainKept:     "kept",
	Ignored:       "ignored",
}

// String implements the fmt.Stringer interface.
func (r Result) String() string {
	if s, exists := results[r]; exists {
		return s
	}
	return "unknown"
}

// ParseResult converts the textual form of a result.
func ParseResult(s string) (Result, error) {
	for r, name := range results {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown result %q", s)
}

// =============================================================================

// Config represents the configuration required to start a node. ID is only
// used by New, NewRandom picks a free identifier.
type Config struct {
	ID        peer.ID
	Registry  *registry.Registry
	Genesis   genesis.Genesis
	EvHandler EventHandler
}

// Node manages one chain under a lock along with the set of known peers.
type Node struct {
	id        peer.ID
	registry  *registry.Registry
	evHandler EventHandler
	closeOnce sync.Once

	mu    sync.Mutex
	chain *chain.Chain
	peers *peer.Set

	// length mirrors the chain length so it can be read while a mining
	// run holds the lock. Written under mu.
	length atomic.Int64

	// Worker is assigned by worker.Run before the node is shared.
	Worker Worker
}

// New constructs a node with the identifier from the config. It fails with
// registry.ErrIDInUse if another node already claimed the identifier.
func New(cfg Config) (*Node, error) {
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}

	if err := cfg.Registry.Register(cfg.ID); err != nil {
		return nil, fmt.Errorf("register id[%s]: %w", cfg.ID, err)
	}

	return newNode(cfg.ID, cfg), nil
}

// NewRandom constructs a node with a random identifier that is not in use.
func NewRandom(cfg Config) (*Node, error) {
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}

	id, err := cfg.Registry.RegisterRandom()
	if err != nil {
		return nil, fmt.Errorf("register random id: %w", err)
	}

	return newNode(id, cfg), nil
}

func newNode(id peer.ID, cfg Config) *Node {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	n := Node{
		id:        id,
		registry:  cfg.Registry,
		evHandler: ev,
		chain:     chain.New(cfg.Genesis, chain.EventHandler(ev)),
		peers:     peer.NewSet(),
	}
	n.length.Store(int64(n.chain.Length()))

	return &n
}

// Close releases the node identifier. Calling Close more than once
// releases the identifier only the first time.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		if n.Worker != nil {
			n.Worker.Shutdown()
		}

		n.registry.Release(n.id)
		n.evHandler("node: Close: released id[%s]", n.id)
	})
}

// ID returns the identifier of the node.
func (n *Node) ID() peer.ID {
	return n.id
}

// =============================================================================

// VerifySignature is the gate every transaction passes before the node
// accepts or relays it. The returned error names the reason for rejection.
func (n *Node) VerifySignature(tx database.Tx) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	if database.PublicKeyBytesToAddress(tx.PublicKey) != tx.FromAddress {
		return ErrAddressMismatch
	}

	return nil
}

// ReceiveTransaction verifies the transaction and adds it to the mempool.
func (n *Node) ReceiveTransaction(tx database.Tx) error {
	if err := n.VerifySignature(tx); err != nil {
		n.evHandler("node: ReceiveTransaction: REJECTED: id[%s]: tx[%s]: %s", n.id, tx, err)
		return fmt.Errorf("%w: %w", chain.ErrInvalidTransaction, err)
	}

	n.mu.Lock()
	err := n.chain.SubmitTransaction(tx)
	n.mu.Unlock()

	if err != nil {
		return err
	}

	if n.Worker != nil {
		n.Worker.SignalStartMining()
	}

	return nil
}

// SendTransaction records the transaction locally and then delivers it to
// the peer. The err argument carries a failure from building the
// transaction, in which case nothing is recorded or delivered.
func (n *Node) SendTransaction(to Receiver, tx database.Tx, err error) error {
	if err != nil {
		n.evHandler("node: SendTransaction: REJECTED: id[%s]: %s", n.id, err)
		return fmt.Errorf("%w: %w", chain.ErrInvalidTransaction, err)
	}

	if err := n.ReceiveTransaction(tx); err != nil {
		return err
	}

	if err := to.ReceiveTransaction(tx); err != nil {
		n.evHandler("node: SendTransaction: delivery failed: id[%s]: tx[%s]: %s", n.id, tx, err)
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	n.evHandler("node: SendTransaction: delivered: id[%s]: tx[%s]", n.id, tx)

	return nil
}

// =============================================================================

// MineNextBlock seals the mempool into the next block. The node stays
// locked for the whole search so no other block can be appended in between.
func (n *Node) MineNextBlock(ctx context.Context) (database.Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	block, err := n.chain.MineNextBlock(ctx)
	if err != nil {
		return database.Block{}, err
	}
	n.length.Store(int64(n.chain.Length()))

	return block, nil
}

// ReceiveBlock applies a block proposed by a peer. A block for the next
// index is appended, a block further ahead triggers fork resolution against
// the sender's chain, anything else is ignored. The sender's chain is
// fetched without holding our lock so two nodes never wait on each other.
func (n *Node) ReceiveBlock(ctx context.Context, block database.Block, from Source) (Result, error) {

	// A local mining run holds the lock until it's done, ask it to stop.
	// A block below our length is ignored anyway and must not cost us
	// the run.
	if n.Worker != nil && block.Index >= uint64(n.length.Load()) {
		n.Worker.SignalCancelMining()
	}

	n.mu.Lock()
	acceptance := n.chain.AcceptRemoteBlock(block)
	n.length.Store(int64(n.chain.Length()))
	n.mu.Unlock()

	switch acceptance {
	case chain.Appended:
		return Appended, nil
	case chain.Ignored:
		return Ignored, nil
	}

	if from == nil {
		return ChainKept, ErrNoSource
	}

	n.evHandler("node: ReceiveBlock: fork resolution: id[%s]: blk[%d]", n.id, block.Index)

	candidate, err := from.FetchChain(ctx)
	if err != nil {
		return ChainKept, fmt.Errorf("fetch chain: %w", err)
	}

	if !n.ReplaceChain(candidate) {
		return ChainKept, nil
	}

	return ChainReplaced, nil
}

// BroadcastBlock delivers the block to every peer in turn, naming this node
// as the source for fork resolution. A failed delivery does not stop the
// remaining deliveries.
func (n *Node) BroadcastBlock(ctx context.Context, block database.Block, peers []BlockReceiver) error {
	n.evHandler("node: BroadcastBlock: started: id[%s]: blk[%d]: peers[%d]", n.id, block.Index, len(peers))
	defer n.evHandler("node: BroadcastBlock: completed: id[%s]: blk[%d]", n.id, block.Index)

	var errs []error
	for _, p := range peers {
		result, err := p.ReceiveBlock(ctx, block.Clone(), n)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		n.evHandler("node: BroadcastBlock: peer result[%s]", result)
	}

	return errors.Join(errs...)
}

// ReplaceChain adopts the candidate when it is valid and strictly longer
// than the current chain.
func (n *Node) ReplaceChain(candidate []database.Block) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.chain.ReplaceIfLonger(candidate) {
		return false
	}
	n.length.Store(int64(n.chain.Length()))

	return true
}

// FetchChain implements the Source interface for peers in the same process.
func (n *Node) FetchChain(ctx context.Context) ([]database.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return n.Blocks(), nil
}

// =============================================================================

// AddPeer adds the peer to the known set. It reports false if the peer was
// already known or is this node.
func (n *Node) AddPeer(p peer.Peer) bool {
	if p.Match(n.id) {
		return false
	}

	return n.peers.Add(p)
}

// RemovePeer removes the peer from the known set.
func (n *Node) RemovePeer(id peer.ID) bool {
	return n.peers.Remove(id)
}

// Peers returns a copy of the known peers.
func (n *Node) Peers() []peer.Peer {
	return n.peers.Copy()
}

// PeerCount returns the number of known peers.
func (n *Node) PeerCount() int {
	return n.peers.Len()
}

// =============================================================================

// Blocks returns a copy of the chain.
func (n *Node) Blocks() []database.Block {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.Blocks()
}

// Snapshot returns a copy of the chain together with the result of the
// integrity scan over that same copy.
func (n *Node) Snapshot() ([]database.Block, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.Blocks(), n.chain.IsValid()
}

// Mempool returns a copy of the pending transactions.
func (n *Node) Mempool() []database.Tx {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.Mempool()
}

// MempoolLength returns the number of pending transactions.
func (n *Node) MempoolLength() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.MempoolLength()
}

// LookupTransaction finds a pending transaction by its content hash.
func (n *Node) LookupTransaction(hash string) (database.Tx, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.LookupTransaction(hash)
}

// Length returns the number of blocks in the chain.
func (n *Node) Length() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.Length()
}

// LatestBlock returns a copy of the last block in the chain.
func (n *Node) LatestBlock() database.Block {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.LatestBlock()
}

// Difficulty returns the difficulty the node mines at.
func (n *Node) Difficulty() uint {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.Difficulty()
}

// IsValid reports whether the chain passes the integrity scan.
func (n *Node) IsValid() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.IsValid()
}

// Validate is IsValid with a diagnostic for the first failing block.
func (n *Node) Validate() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.chain.Validate()
}

// Status returns the information a peer needs to compare chains.
func (n *Node) Status() peer.Status {
	n.mu.Lock()
	latest := n.chain.LatestBlock()
	length := n.chain.Length()
	n.mu.Unlock()

	return peer.Status{
		ID:                n.id,
		LatestBlockHash:   latest.Hash,
		LatestBlockNumber: latest.Index,
		Length:            length,
		KnownPeers:        n.peers.Copy(),
	}
}
