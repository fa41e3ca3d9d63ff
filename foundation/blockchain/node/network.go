package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
)

// ErrUnknownNode is returned when a peer id is not part of the network.
var ErrUnknownNode = errors.New("node not found in network")

// Network is a directory of the nodes running in the same process. It
// resolves a node's peer ids to nodes so blocks can be delivered.
type Network struct {
	mu    sync.RWMutex
	nodes map[peer.ID]*Node
}

// NewNetwork constructs an empty network.
func NewNetwork() *Network {
	return &Network{
		nodes: make(map[peer.ID]*Node),
	}
}

// Join adds the node to the network.
func (nw *Network) Join(n *Node) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	nw.nodes[n.ID()] = n
}

// Leave removes the node from the network.
func (nw *Network) Leave(id peer.ID) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	delete(nw.nodes, id)
}

// Lookup finds a node by id.
func (nw *Network) Lookup(id peer.ID) (*Node, bool) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	n, exists := nw.nodes[id]
	return n, exists
}

// Connect makes the two nodes peers of each other.
func (nw *Network) Connect(a *Node, b *Node) {
	a.AddPeer(peer.New(b.ID(), ""))
	b.AddPeer(peer.New(a.ID(), ""))
}

// BroadcastFrom delivers the block to every peer of the node. Peers that
// are not part of the network are reported in the returned error but do not
// stop delivery to the others.
func (nw *Network) BroadcastFrom(ctx context.Context, n *Node, block database.Block) error {
	var errs []error
	var receivers []BlockReceiver

	for _, p := range n.Peers() {
		target, exists := nw.Lookup(p.ID)
		if !exists {
			errs = append(errs, fmt.Errorf("peer[%s]: %w", p.ID, ErrUnknownNode))
			continue
		}
		receivers = append(receivers, target)
	}

	if err := n.BroadcastBlock(ctx, block, receivers); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
