// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ardanlabs/powledger/business/sys/metrics"
	"github.com/ardanlabs/powledger/business/web/errs"
	"github.com/ardanlabs/powledger/foundation/blockchain/chain"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/powledger/foundation/blockchain/node"
	"github.com/ardanlabs/powledger/foundation/blockchain/remote"
	"github.com/ardanlabs/powledger/foundation/blockchain/worker"
	"github.com/ardanlabs/powledger/foundation/web"
	"go.uber.org/zap"
)

// txDocument is a signed transaction as shared by a peer. It has no
// Validate method so web.Decode leaves the signature check to the node.
type txDocument database.Tx

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	Node   *node.Node
	Worker *worker.Worker
	Peers  *remote.Peers
}

// SubmitNodeTransaction adds a transaction shared by a peer to the mempool.
// The transaction is not shared any further.
func (h Handlers) SubmitNodeTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Decoding into the document form leaves the signature check to the
	// node so a rejection carries its reason.
	var doc txDocument
	if err := web.Decode(r, &doc); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}
	tx := database.Tx(doc)

	h.Log.Infow("add tran", "traceid", v.TraceID, "from", tx.FromAddress, "to", tx.ToAddress, "amount", tx.Amount)
	if err := h.Node.ReceiveTransaction(tx); err != nil {
		switch {
		case errors.Is(err, mempool.ErrDuplicate):
			metrics.Transactions.WithLabelValues("peer", "duplicate").Inc()

			// The peer already has it, nothing for the sender to fix.
			return web.Respond(ctx, w, nil, http.StatusNoContent)

		case errors.Is(err, chain.ErrInvalidTransaction):
			metrics.Transactions.WithLabelValues("peer", "rejected").Inc()
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return err
	}
	metrics.Transactions.WithLabelValues("peer", "accepted").Inc()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ProposeBlock takes a block mined by a peer and applies it to the local
// chain. When the block is ahead of the chain, the proposer's chain is
// fetched to resolve the fork.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var proposal remote.BlockProposal
	if err := web.Decode(r, &proposal); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	// Learn about the proposer so future blocks get shared with it.
	if proposal.From.Host != "" && h.Node.AddPeer(proposal.From) {
		h.Log.Infow("propose block", "traceid", v.TraceID, "new peer", proposal.From.ID, "host", proposal.From.Host)
	}

	// A nil client must not end up inside the interface.
	var source node.Source
	if h.Peers != nil {
		if client, err := h.Peers.Client(proposal.From); err == nil {
			source = client
		}
	}

	result, err := h.Node.ReceiveBlock(ctx, proposal.Block, source)
	if err != nil {
		metrics.BlocksReceived.WithLabelValues("rejected").Inc()
		return errs.NewTrusted(fmt.Errorf("block not accepted: %w", err), http.StatusNotAcceptable)
	}
	metrics.BlocksReceived.WithLabelValues(result.String()).Inc()

	h.Log.Infow("propose block", "traceid", v.TraceID, "index", proposal.Block.Index, "result", result)

	// A locally pending mining run was cancelled by the block, start over
	// with what remains in the mempool.
	if h.Worker != nil && h.Node.MempoolLength() > 0 {
		h.Worker.SignalStartMining()
	}

	return web.Respond(ctx, w, remote.ProposalResult{Result: result.String()}, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.Status(), http.StatusOK)
}

// Chain returns the full chain for fork resolution.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.Blocks(), http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.Mempool(), http.StatusOK)
}
