package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/node"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/ardanlabs/powledger/foundation/blockchain/registry"
	"github.com/ardanlabs/powledger/foundation/blockchain/worker"
	"github.com/ethereum/go-ethereum/crypto"
)

const pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

type fakeNetwork struct {
	mu       sync.Mutex
	proposed chan database.Block
	shared   chan database.Tx
	statuses map[peer.ID]peer.Status
	chains   map[peer.ID][]database.Block
	pools    map[peer.ID][]database.Tx
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		proposed: make(chan database.Block, 10),
		shared:   make(chan database.Tx, 10),
		statuses: make(map[peer.ID]peer.Status),
		chains:   make(map[peer.ID][]database.Block),
		pools:    make(map[peer.ID][]database.Tx),
	}
}

func (f *fakeNetwork) ProposeBlock(ctx context.Context, block database.Block) error {
	f.proposed <- block
	return nil
}

func (f *fakeNetwork) ShareTx(ctx context.Context, tx database.Tx) error {
	f.shared <- tx
	return nil
}

func (f *fakeNetwork) Status(ctx context.Context, pr peer.Peer) (peer.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	status, exists := f.statuses[pr.ID]
	if !exists {
		return peer.Status{}, errors.New("peer offline")
	}
	return status, nil
}

func (f *fakeNetwork) FetchChain(ctx context.Context, pr peer.Peer) ([]database.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.chains[pr.ID], nil
}

func (f *fakeNetwork) Mempool(ctx context.Context, pr peer.Peer) ([]database.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pools[pr.ID], nil
}

func newNode(t *testing.T, reg *registry.Registry, difficulty uint) *node.Node {
	gen := genesis.Default()
	gen.Difficulty = difficulty

	n, err := node.NewRandom(node.Config{Registry: reg, Genesis: gen})
	if err != nil {
		t.Fatalf("Should be able to construct a node: %s", err)
	}
	t.Cleanup(n.Close)

	return n
}

func signTx(t *testing.T, amount uint64) database.Tx {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	tx, err := database.NewSignedTx(database.WalletFromKey(pk), "bob", amount)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	return tx
}

// =============================================================================

func Test_MineOnSignal(t *testing.T) {
	n := newNode(t, registry.New(), 1)
	net := newFakeNetwork()

	w := worker.Run(n, net, nil)
	defer w.Shutdown()

	if err := n.ReceiveTransaction(signTx(t, 50)); err != nil {
		t.Fatalf("Should accept the transaction: %s", err)
	}

	select {
	case block := <-net.proposed:
		if block.Index != 1 || len(block.Transactions) != 1 {
			t.Fatalf("Should propose the mined block, got index %d with %d txs.", block.Index, len(block.Transactions))
		}

	case <-time.After(10 * time.Second):
		t.Fatalf("Should mine and propose a block after a transaction arrives.")
	}

	if n.Length() != 2 || n.MempoolLength() != 0 {
		t.Fatalf("Should append the block and drain the mempool.")
	}
}

func Test_ShutdownCancelsMining(t *testing.T) {
	n := newNode(t, registry.New(), 64)
	net := newFakeNetwork()

	w := worker.Run(n, net, nil)

	if err := n.ReceiveTransaction(signTx(t, 50)); err != nil {
		t.Fatalf("Should accept the transaction: %s", err)
	}

	done := make(chan struct{})
	go func() {
		w.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Should stop mining on shutdown.")
	}

	if n.Length() != 1 || n.MempoolLength() != 1 {
		t.Fatalf("Should leave the chain and mempool untouched.")
	}

	w.Shutdown()
}

func Test_ShareTx(t *testing.T) {
	n := newNode(t, registry.New(), 1)
	net := newFakeNetwork()

	w := worker.Run(n, net, nil)
	defer w.Shutdown()

	tx := signTx(t, 75)
	w.SignalShareTx(tx)

	select {
	case got := <-net.shared:
		if !got.Equals(tx) {
			t.Fatalf("Should share the transaction that was signaled.")
		}

	case <-time.After(5 * time.Second):
		t.Fatalf("Should share the transaction with the network.")
	}
}

func Test_Sync(t *testing.T) {
	reg := registry.New()

	remote := newNode(t, reg, 1)
	for i := uint64(1); i <= 3; i++ {
		if err := remote.ReceiveTransaction(signTx(t, i)); err != nil {
			t.Fatalf("Should accept the transaction: %s", err)
		}
		if _, err := remote.MineNextBlock(context.Background()); err != nil {
			t.Fatalf("Should be able to mine: %s", err)
		}
	}

	n := newNode(t, reg, 1)
	n.AddPeer(peer.New(remote.ID(), "remote"))
	n.AddPeer(peer.New(999, "offline"))

	net := newFakeNetwork()
	net.statuses[remote.ID()] = peer.Status{
		ID:         remote.ID(),
		Length:     remote.Length(),
		KnownPeers: []peer.Peer{peer.New(777, "other"), peer.New(n.ID(), "self")},
	}
	net.chains[remote.ID()] = remote.Blocks()

	pending := signTx(t, 10)
	net.pools[remote.ID()] = []database.Tx{pending}

	w := worker.Run(n, net, nil)
	defer w.Shutdown()

	// The pending transaction of the peer gets mined on top of the
	// adopted chain.
	deadline := time.Now().Add(5 * time.Second)
	for n.Length() <= remote.Length() {
		if time.Now().After(deadline) {
			t.Fatalf("Should mine the pending transaction of the peer.")
		}
		time.Sleep(10 * time.Millisecond)
	}

	blocks := n.Blocks()
	if blocks[remote.Length()-1].Hash != remote.LatestBlock().Hash {
		t.Fatalf("Should adopt the longer chain of the peer.")
	}

	latest := blocks[len(blocks)-1]
	if len(latest.Transactions) != 1 || !latest.Transactions[0].Equals(pending) {
		t.Fatalf("Should mine the transaction picked up from the peer.")
	}

	var found bool
	for _, pr := range n.Peers() {
		if pr.ID == n.ID() {
			t.Fatalf("Should not add itself as a peer.")
		}
		if pr.ID == 777 {
			found = true
		}
	}

	if !found {
		t.Fatalf("Should learn about the peers of its peers.")
	}
}
