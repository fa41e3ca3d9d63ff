package worker

import (
	"context"

	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
)

// peerOperations handles keeping up with the peers on a timer.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.Sync()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// Sync asks every known peer for its status, learns about the peers they
// know, adopts a peer's chain when it is longer than ours and picks up the
// transactions still waiting in the peer's mempool.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	ctx, cancel := context.WithTimeout(context.Background(), netTimeout)
	defer cancel()

	for _, pr := range w.node.Peers() {

		// Retrieve the status of this peer.
		status, err := w.net.Status(ctx, pr)
		if err != nil {
			w.evHandler("worker: sync: queryPeerStatus: %s: ERROR: %s", pr.ID, err)
			continue
		}

		// Add new peers to this nodes list.
		w.addNewPeers(status.KnownPeers)

		// If this peer has blocks we don't have, we need to add them. This
		// happens before the mempool so nothing we mine gets replaced.
		if status.Length > w.node.Length() {
			w.retrievePeerBlocks(ctx, pr, status.Length)
		}

		w.retrievePeerMempool(ctx, pr)
	}
}

// retrievePeerBlocks adopts the chain of the peer when it is valid and
// longer than ours.
func (w *Worker) retrievePeerBlocks(ctx context.Context, pr peer.Peer, length int) {
	w.evHandler("worker: sync: retrievePeerBlocks: %s: length[%d]", pr.ID, length)

	blocks, err := w.net.FetchChain(ctx, pr)
	if err != nil {
		w.evHandler("worker: sync: retrievePeerBlocks: %s: ERROR %s", pr.ID, err)
		return
	}

	if w.node.ReplaceChain(blocks) {
		w.evHandler("worker: sync: retrievePeerBlocks: %s: chain replaced", pr.ID)
	}
}

// retrievePeerMempool adds the pending transactions of the peer to our
// mempool. Transactions we already hold or that fail verification are
// skipped.
func (w *Worker) retrievePeerMempool(ctx context.Context, pr peer.Peer) {
	pool, err := w.net.Mempool(ctx, pr)
	if err != nil {
		w.evHandler("worker: sync: retrievePeerMempool: %s: ERROR: %s", pr.ID, err)
		return
	}

	for _, tx := range pool {
		if err := w.node.ReceiveTransaction(tx); err != nil {
			continue
		}
		w.evHandler("worker: sync: retrievePeerMempool: %s: Add Tx: %s", pr.ID, tx)
	}
}

// addNewPeers takes the list of known peers and makes sure they are included
// in the nodes list of known peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	for _, pr := range knownPeers {
		if w.node.AddPeer(pr) {
			w.evHandler("worker: sync: addNewPeers: adding peer-node %s", pr.ID)
		}
	}
}
