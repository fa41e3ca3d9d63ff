package node_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ardanlabs/powledger/foundation/blockchain/chain"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/node"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/ardanlabs/powledger/foundation/blockchain/registry"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const (
	pkHexKey  = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	pkHexKey2 = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"
)

func testGenesis() genesis.Genesis {
	gen := genesis.Default()
	gen.Difficulty = 1
	return gen
}

func newNode(t *testing.T, reg *registry.Registry) *node.Node {
	n, err := node.NewRandom(node.Config{
		Registry: reg,
		Genesis:  testGenesis(),
	})
	if err != nil {
		t.Fatalf("Should be able to construct a node: %s", err)
	}
	t.Cleanup(n.Close)

	return n
}

func wallet(t *testing.T, hexKey string) database.Wallet {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	return database.WalletFromKey(pk)
}

func signTx(t *testing.T, amount uint64) database.Tx {
	tx, err := database.NewSignedTx(wallet(t, pkHexKey), wallet(t, pkHexKey2).Address, amount)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	return tx
}

func mine(t *testing.T, n *node.Node, blocks int) {
	for i := 0; i < blocks; i++ {
		if err := n.ReceiveTransaction(signTx(t, uint64(n.Length()*1000+i+1))); err != nil {
			t.Fatalf("Should accept the transaction: %s", err)
		}

		if _, err := n.MineNextBlock(context.Background()); err != nil {
			t.Fatalf("Should be able to mine a block: %s", err)
		}
	}
}

// =============================================================================

func Test_Identity(t *testing.T) {
	t.Log("Given the need to give every node a unique id.")
	{
		reg := registry.New()

		t.Logf("\tTest 0:\tWhen constructing nodes with explicit ids.")
		{
			n, err := node.New(node.Config{ID: 5, Registry: reg, Genesis: testGenesis()})
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to construct a node: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to construct a node.", success)

			if _, err := node.New(node.Config{ID: 5, Registry: reg, Genesis: testGenesis()}); !errors.Is(err, registry.ErrIDInUse) {
				t.Fatalf("\t%s\tTest 0:\tShould reject a second node with the same id, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject a second node with the same id.", success)

			n.Close()
			n.Close()

			if reg.Registered(5) {
				t.Fatalf("\t%s\tTest 0:\tShould release the id on close.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould release the id on close.", success)

			other, err := node.New(node.Config{ID: 5, Registry: reg, Genesis: testGenesis()})
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to reuse a released id: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to reuse a released id.", success)

			n.Close()
			if !reg.Registered(5) {
				t.Fatalf("\t%s\tTest 0:\tShould not release the id a closed node no longer owns.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not release the id a closed node no longer owns.", success)

			other.Close()
		}

		t.Logf("\tTest 1:\tWhen constructing nodes without a registry.")
		{
			if _, err := node.NewRandom(node.Config{Genesis: testGenesis()}); !errors.Is(err, node.ErrNoRegistry) {
				t.Fatalf("\t%s\tTest 1:\tShould require a registry, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould require a registry.", success)
		}
	}
}

func Test_ConcurrentConstruction(t *testing.T) {
	reg := registry.New()

	const goroutines = 32

	var wg sync.WaitGroup
	wg.Add(goroutines)

	var mu sync.Mutex
	var nodes []*node.Node

	for range goroutines {
		go func() {
			defer wg.Done()

			n, err := node.New(node.Config{ID: 1, Registry: reg, Genesis: testGenesis()})
			if err != nil {
				return
			}

			mu.Lock()
			nodes = append(nodes, n)
			mu.Unlock()
		}()
	}

	wg.Wait()

	if len(nodes) != 1 {
		t.Fatalf("Should construct exactly one node for the id, got %d.", len(nodes))
	}
}

func Test_VerifySignature(t *testing.T) {
	n := newNode(t, registry.New())

	missingKey := signTx(t, 10)
	missingKey.PublicKey = nil

	missingSig := signTx(t, 10)
	missingSig.Signature = nil

	mismatch := signTx(t, 10)
	mismatch.Amount = 11

	impostor := wallet(t, pkHexKey)
	impostor.Address = wallet(t, pkHexKey2).Address
	stolen, err := database.NewSignedTx(impostor, "bob", 10)
	if err != nil {
		t.Fatalf("Should be able to sign transaction: %s", err)
	}

	type table struct {
		name string
		tx   database.Tx
		err  error
	}

	tt := []table{
		{name: "valid", tx: signTx(t, 10), err: nil},
		{name: "missing-key", tx: missingKey, err: database.ErrMissingPublicKey},
		{name: "missing-sig", tx: missingSig, err: database.ErrMissingSignature},
		{name: "mismatch", tx: mismatch, err: database.ErrSignatureMismatch},
		{name: "address", tx: stolen, err: node.ErrAddressMismatch},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			err := n.VerifySignature(tst.tx)
			if !errors.Is(err, tst.err) || (tst.err == nil && err != nil) {
				t.Logf("got: %v", err)
				t.Logf("exp: %v", tst.err)
				t.Fatalf("Should get back the right reason.")
			}

			err = n.ReceiveTransaction(tst.tx)
			if tst.err != nil {
				if !errors.Is(err, chain.ErrInvalidTransaction) || !errors.Is(err, tst.err) {
					t.Fatalf("Should reject the transaction with the reason, got %v.", err)
				}
			}
		}

		t.Run(tst.name, f)
	}

	if got := len(n.Mempool()); got != 1 {
		t.Fatalf("Should only hold the valid transaction, got %d.", got)
	}
}

func Test_SendTransaction(t *testing.T) {
	reg := registry.New()
	a := newNode(t, reg)
	b := newNode(t, reg)

	t.Log("Given the need to relay a transaction between nodes.")
	{
		t.Logf("\tTest 0:\tWhen A sends a valid transaction to B.")
		{
			tx := signTx(t, 50)

			if err := a.SendTransaction(b, tx, nil); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to send the transaction: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to send the transaction.", success)

			pool := b.Mempool()
			if len(pool) != 1 || !pool[0].Equals(tx) {
				t.Fatalf("\t%s\tTest 0:\tShould have exactly the transaction in B's mempool, got %d.", failed, len(pool))
			}
			t.Logf("\t%s\tTest 0:\tShould have exactly the transaction in B's mempool.", success)

			pool = a.Mempool()
			if len(pool) != 1 || !pool[0].Equals(tx) {
				t.Fatalf("\t%s\tTest 0:\tShould keep a copy in A's mempool, got %d.", failed, len(pool))
			}
			t.Logf("\t%s\tTest 0:\tShould keep a copy in A's mempool.", success)
		}

		t.Logf("\tTest 1:\tWhen A fails to build a transaction.")
		{
			tx, err := database.NewSignedTx(wallet(t, pkHexKey), "bob", 0)

			if err := a.SendTransaction(b, tx, err); !errors.Is(err, database.ErrInvalidAmount) {
				t.Fatalf("\t%s\tTest 1:\tShould report the construction failure, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould report the construction failure.", success)

			if len(a.Mempool()) != 1 || len(b.Mempool()) != 1 {
				t.Fatalf("\t%s\tTest 1:\tShould not touch either mempool.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould not touch either mempool.", success)
		}

		t.Logf("\tTest 2:\tWhen A sends a tampered transaction.")
		{
			tx := signTx(t, 70)
			tx.Amount = 7000

			if err := a.SendTransaction(b, tx, nil); !errors.Is(err, database.ErrSignatureMismatch) {
				t.Fatalf("\t%s\tTest 2:\tShould reject the transaction, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould reject the transaction.", success)

			if len(a.Mempool()) != 1 || len(b.Mempool()) != 1 {
				t.Fatalf("\t%s\tTest 2:\tShould not touch either mempool.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould not touch either mempool.", success)
		}
	}
}

func Test_ForkResolution(t *testing.T) {
	reg := registry.New()
	x := newNode(t, reg)
	y := newNode(t, reg)

	mine(t, y, 3)
	if y.Length() != 4 {
		t.Fatalf("Should have grown Y to 4 blocks, got %d.", y.Length())
	}

	result, err := x.ReceiveBlock(context.Background(), y.LatestBlock(), y)
	if err != nil {
		t.Fatalf("Should be able to receive the block: %s", err)
	}

	if result != node.ChainReplaced {
		t.Fatalf("Should adopt Y's chain, got %s.", result)
	}

	if x.Length() != y.Length() || x.LatestBlock().Hash != y.LatestBlock().Hash {
		t.Fatalf("Should end with the same chain as Y.")
	}

	xb, yb := x.Blocks(), y.Blocks()
	for i := range yb {
		if xb[i].Hash != yb[i].Hash || xb[i].Nonce != yb[i].Nonce {
			t.Fatalf("Should match Y block for block, differs at %d.", i)
		}
	}

	if !x.IsValid() {
		t.Fatalf("Should hold a valid chain.")
	}
}

type fixedSource []database.Block

func (s fixedSource) FetchChain(ctx context.Context) ([]database.Block, error) {
	return s, nil
}

type failingSource struct{}

func (failingSource) FetchChain(ctx context.Context) ([]database.Block, error) {
	return nil, errors.New("unreachable")
}

// countingWorker records the signals the node sends to its worker.
type countingWorker struct {
	cancels atomic.Int32
}

func (w *countingWorker) Shutdown()           {}
func (w *countingWorker) SignalStartMining()  {}
func (w *countingWorker) SignalCancelMining() { w.cancels.Add(1) }

func Test_ReceiveBlock(t *testing.T) {
	reg := registry.New()

	y := newNode(t, reg)
	mine(t, y, 3)
	blocks := y.Blocks()

	tampered := y.Blocks()
	tampered[1].Nonce++

	type table struct {
		name   string
		start  int
		block  database.Block
		source node.Source
		exp    node.Result
		err     bool
		length  int
		cancels int32
	}

	tt := []table{
		{name: "next", start: 0, block: blocks[1], source: y, exp: node.Appended, length: 2, cancels: 1},
		{name: "old", start: 2, block: blocks[1], source: y, exp: node.Ignored, length: 3},
		{name: "latest", start: 2, block: blocks[2], source: y, exp: node.Ignored, length: 3},
		{name: "ahead", start: 0, block: blocks[3], source: y, exp: node.ChainReplaced, length: 4, cancels: 1},
		{name: "ahead-invalid", start: 0, block: blocks[3], source: fixedSource(tampered), exp: node.ChainKept, length: 1, cancels: 1},
		{name: "ahead-shorter", start: 0, block: blocks[3], source: fixedSource(blocks[:1]), exp: node.ChainKept, length: 1, cancels: 1},
		{name: "ahead-unreachable", start: 0, block: blocks[3], source: failingSource{}, exp: node.ChainKept, err: true, length: 1, cancels: 1},
		{name: "ahead-no-source", start: 0, block: blocks[3], source: nil, exp: node.ChainKept, err: true, length: 1, cancels: 1},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			x := newNode(t, reg)
			for i := 1; i <= tst.start; i++ {
				x.ReceiveBlock(context.Background(), blocks[i], nil)
			}

			var wrk countingWorker
			x.Worker = &wrk

			result, err := x.ReceiveBlock(context.Background(), tst.block, tst.source)
			if (err != nil) != tst.err {
				t.Fatalf("Should get back err=%v, got %v.", tst.err, err)
			}

			if result != tst.exp {
				t.Logf("got: %s", result)
				t.Logf("exp: %s", tst.exp)
				t.Fatalf("Should get back the right result.")
			}

			if x.Length() != tst.length {
				t.Fatalf("Should have %d blocks, got %d.", tst.length, x.Length())
			}

			if !x.IsValid() {
				t.Fatalf("Should hold a valid chain.")
			}

			// A block we would ignore must not stop a local mining run.
			if got := wrk.cancels.Load(); got != tst.cancels {
				t.Fatalf("Should signal cancel mining %d times, got %d.", tst.cancels, got)
			}

			snap, valid := x.Snapshot()
			if len(snap) != tst.length || !valid {
				t.Fatalf("Should snapshot %d valid blocks, got %d valid=%v.", tst.length, len(snap), valid)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_Broadcast(t *testing.T) {
	reg := registry.New()
	nw := node.NewNetwork()

	a := newNode(t, reg)
	b := newNode(t, reg)
	c := newNode(t, reg)

	for _, n := range []*node.Node{a, b, c} {
		nw.Join(n)
	}

	nw.Connect(a, b)

	// C only becomes a peer after A mined its first block.
	mine(t, a, 1)
	if err := nw.BroadcastFrom(context.Background(), a, a.LatestBlock()); err != nil {
		t.Fatalf("Should be able to broadcast: %s", err)
	}

	if b.Length() != 2 || c.Length() != 1 {
		t.Fatalf("Should only reach B, got B[%d] C[%d].", b.Length(), c.Length())
	}

	nw.Connect(a, c)

	mine(t, a, 1)
	if err := nw.BroadcastFrom(context.Background(), a, a.LatestBlock()); err != nil {
		t.Fatalf("Should be able to broadcast: %s", err)
	}

	for _, n := range []*node.Node{b, c} {
		if n.Length() != a.Length() || n.LatestBlock().Hash != a.LatestBlock().Hash {
			t.Fatalf("Should bring node %s up to date with A.", n.ID())
		}
	}

	a.AddPeer(peer.New(12345, ""))
	if err := nw.BroadcastFrom(context.Background(), a, a.LatestBlock()); !errors.Is(err, node.ErrUnknownNode) {
		t.Fatalf("Should report the unknown peer, got %v.", err)
	}
}

func Test_Peers(t *testing.T) {
	n := newNode(t, registry.New())

	if n.AddPeer(peer.New(n.ID(), "")) {
		t.Fatalf("Should not add the node as its own peer.")
	}

	other := n.ID() + 1
	if !n.AddPeer(peer.New(other, "")) || n.AddPeer(peer.New(other, "")) {
		t.Fatalf("Should add a peer exactly once.")
	}

	if len(n.Peers()) != 1 {
		t.Fatalf("Should have one peer, got %d.", len(n.Peers()))
	}

	if !n.RemovePeer(other) || n.RemovePeer(other) {
		t.Fatalf("Should remove a peer exactly once.")
	}

	status := n.Status()
	if status.ID != n.ID() || status.Length != 1 || len(status.KnownPeers) != 0 {
		t.Fatalf("Should report the node status, got %+v.", status)
	}
}

func Test_ConcurrentSubmit(t *testing.T) {
	n := newNode(t, registry.New())

	const goroutines = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := range goroutines {
		tx := signTx(t, uint64(i+1))
		go func() {
			defer wg.Done()
			if err := n.ReceiveTransaction(tx); err != nil {
				t.Errorf("Should accept the transaction: %s", err)
			}
		}()
	}

	wg.Wait()

	if n.MempoolLength() != goroutines {
		t.Fatalf("Should hold every transaction, got %d.", n.MempoolLength())
	}

	block, err := n.MineNextBlock(context.Background())
	if err != nil {
		t.Fatalf("Should be able to mine a block: %s", err)
	}

	if len(block.Transactions) != goroutines || n.MempoolLength() != 0 {
		t.Fatalf("Should mine every transaction, got %d.", len(block.Transactions))
	}
}

func Test_MiningOrder(t *testing.T) {
	n := newNode(t, registry.New())

	for _, amount := range []uint64{50, 200} {
		if err := n.ReceiveTransaction(signTx(t, amount)); err != nil {
			t.Fatalf("Should accept the transaction: %s", err)
		}
	}

	block, err := n.MineNextBlock(context.Background())
	if err != nil {
		t.Fatalf("Should be able to mine a block: %s", err)
	}

	if len(block.Transactions) != 2 || block.Transactions[0].Amount != 50 || block.Transactions[1].Amount != 200 {
		t.Fatalf("Should keep the submission order.")
	}
}

func Test_ParseResult(t *testing.T) {
	for _, r := range []node.Result{node.Appended, node.ChainReplaced, node.ChainKept, node.Ignored} {
		got, err := node.ParseResult(r.String())
		if err != nil || got != r {
			t.Fatalf("Should round trip result %s, got %s: %v", r, got, err)
		}
	}

	if _, err := node.ParseResult("bogus"); err == nil {
		t.Fatalf("Should reject an unknown result.")
	}
}
