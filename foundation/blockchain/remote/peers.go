package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/node"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
)

// ErrNoHost is returned when a peer has no host to reach it on.
var ErrNoHost = errors.New("peer has no host")

// Peers reaches the known peers of a node over http.
type Peers struct {
	node      *node.Node
	origin    peer.Peer
	opts      []Option
	evHandler node.EventHandler
}

// NewPeers constructs access to the peers of the node. The origin is how
// the peers reach this node.
func NewPeers(n *node.Node, origin peer.Peer, evHandler node.EventHandler, opts ...Option) *Peers {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Peers{
		node:      n,
		origin:    origin,
		opts:      opts,
		evHandler: ev,
	}
}

// Client constructs a client for the specified peer.
func (p *Peers) Client(pr peer.Peer) (*Client, error) {
	if pr.Host == "" {
		return nil, fmt.Errorf("peer[%s]: %w", pr.ID, ErrNoHost)
	}

	return New(pr.Host, p.origin, p.opts...), nil
}

// clients returns a client for every known peer that can be reached.
func (p *Peers) clients() []*Client {
	var clients []*Client
	for _, pr := range p.node.Peers() {
		client, err := p.Client(pr)
		if err != nil {
			p.evHandler("remote: clients: WARNING: %s", err)
			continue
		}
		clients = append(clients, client)
	}

	return clients
}

// ProposeBlock takes the newly mined block and sends it to all known peers.
func (p *Peers) ProposeBlock(ctx context.Context, block database.Block) error {
	clients := p.clients()

	receivers := make([]node.BlockReceiver, len(clients))
	for i, client := range clients {
		receivers[i] = client
	}

	return p.node.BroadcastBlock(ctx, block, receivers)
}

// ShareTx shares a new transaction with the known peers.
func (p *Peers) ShareTx(ctx context.Context, tx database.Tx) error {
	var errs []error
	for _, client := range p.clients() {
		if err := client.SubmitTx(ctx, tx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", client.Host(), err))
			continue
		}
		p.evHandler("remote: ShareTx: sent to peer[%s]: tx[%s]", client.Host(), tx)
	}

	return errors.Join(errs...)
}

// ReceiveTransaction implements the node.Receiver interface by sharing the
// transaction with every known peer.
func (p *Peers) ReceiveTransaction(tx database.Tx) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout*(defaultMaxRetries+1))
	defer cancel()

	return p.ShareTx(ctx, tx)
}

// Status asks the peer for its status.
func (p *Peers) Status(ctx context.Context, pr peer.Peer) (peer.Status, error) {
	client, err := p.Client(pr)
	if err != nil {
		return peer.Status{}, err
	}

	return client.Status(ctx)
}

// FetchChain asks the peer for its full chain.
func (p *Peers) FetchChain(ctx context.Context, pr peer.Peer) ([]database.Block, error) {
	client, err := p.Client(pr)
	if err != nil {
		return nil, err
	}

	return client.FetchChain(ctx)
}

// Mempool asks the peer for its pending transactions.
func (p *Peers) Mempool(ctx context.Context, pr peer.Peer) ([]database.Tx, error) {
	client, err := p.Client(pr)
	if err != nil {
		return nil, err
	}

	return client.Mempool(ctx)
}
