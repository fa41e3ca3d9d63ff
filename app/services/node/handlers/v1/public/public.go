// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/powledger/business/sys/metrics"
	"github.com/ardanlabs/powledger/business/web/errs"
	"github.com/ardanlabs/powledger/foundation/blockchain/chain"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/powledger/foundation/blockchain/node"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/ardanlabs/powledger/foundation/blockchain/remote"
	"github.com/ardanlabs/powledger/foundation/blockchain/worker"
	"github.com/ardanlabs/powledger/foundation/events"
	"github.com/ardanlabs/powledger/foundation/keystore"
	"github.com/ardanlabs/powledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints for clients.
type Handlers struct {
	Log      *zap.SugaredLogger
	Node     *node.Node
	Worker   *worker.Worker
	Peers    *remote.Peers
	Keystore *keystore.Keystore
	WS       websocket.Upgrader
	Evts     *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Chain returns the full chain held by the node.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blocks, valid := h.Node.Snapshot()

	info := chainInfo{
		Length: len(blocks),
		Valid:  valid,
		Blocks: blocks,
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// Mine seals the pending transactions into a new block and proposes the
// block to the known peers.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	block, err := h.Node.MineNextBlock(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return errs.NewTrusted(fmt.Errorf("mining stopped: %w", err), http.StatusServiceUnavailable)
		}
		return fmt.Errorf("mining block: %w", err)
	}

	h.Log.Infow("mined block", "traceid", v.TraceID, "index", block.Index, "hash", block.Hash, "nonce", block.Nonce)

	if h.Peers != nil {
		if err := h.Peers.ProposeBlock(ctx, block); err != nil {
			h.Log.Infow("propose block", "traceid", v.TraceID, "index", block.Index, "WARNING", err)
		}
	}

	resp := minedBlock{
		Status: fmt.Sprintf("Mined new block index=%d", block.Index),
		Block:  block,
	}

	return web.Respond(ctx, w, resp, http.StatusCreated)
}

// ListPeers returns the set of known peers.
func (h Handlers) ListPeers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, peers{Peers: h.Node.Peers()}, http.StatusOK)
}

// AddPeer adds a peer to the known set.
func (h Handlers) AddPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var np NewPeer
	if err := web.Decode(r, &np); err != nil {
		return decodeError(err)
	}

	if np.ID == h.Node.ID() {
		return errs.NewTrusted(errors.New("node can't be its own peer"), http.StatusBadRequest)
	}

	status := http.StatusOK
	if h.Node.AddPeer(peer.New(np.ID, np.Host)) {
		status = http.StatusCreated
	}

	return web.Respond(ctx, w, peers{Peers: h.Node.Peers()}, status)
}

// RemovePeer removes the peer from the known set.
func (h Handlers) RemovePeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := peer.ParseID(web.Param(r, "id"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if !h.Node.RemovePeer(id) {
		return errs.NewTrusted(fmt.Errorf("peer[%s] not found", id), http.StatusNotFound)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// SubmitTransaction adds a signed transaction to the mempool and shares it
// with the known peers.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// The signature is checked by the node so a bad transaction gets
	// rejected with its reason rather than at decode time.
	var doc txDocument
	if err := web.Decode(r, &doc); err != nil {
		return decodeError(err)
	}
	signedTx := database.Tx(doc)

	h.Log.Infow("add user tran", "traceid", v.TraceID, "from", signedTx.FromAddress, "to", signedTx.ToAddress, "amount", signedTx.Amount)
	if err := h.Node.ReceiveTransaction(signedTx); err != nil {
		metrics.Transactions.WithLabelValues("client", outcome(err)).Inc()
		return txError(err)
	}
	metrics.Transactions.WithLabelValues("client", "accepted").Inc()

	h.share(v.TraceID, signedTx)

	resp := struct {
		Status string `json:"status"`
		Hash   string `json:"hash"`
	}{
		Status: "transaction added to mempool",
		Hash:   signedTx.Hash(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")

	trans := []tx{}
	for _, tran := range h.Node.Mempool() {
		if address != "" && address != tran.FromAddress && address != tran.ToAddress {
			continue
		}

		trans = append(trans, h.toTx(tran))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// LookupTransaction returns the uncommitted transaction with the
// specified hash.
func (h Handlers) LookupTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := web.Param(r, "hash")

	tran, exists := h.Node.LookupTransaction(hash)
	if !exists {
		return errs.NewTrusted(fmt.Errorf("transaction[%s] not found in mempool", hash), http.StatusNotFound)
	}

	return web.Respond(ctx, w, h.toTx(tran), http.StatusOK)
}

// CreateWallet generates a new wallet held by the node. Only the public
// parts of the wallet are returned.
func (h Handlers) CreateWallet(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	info, err := h.Keystore.Generate()
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}

	return web.Respond(ctx, w, info, http.StatusCreated)
}

// SendFromWallet signs a transaction with a node held wallet, records it
// locally and delivers it to the known peers.
func (h Handlers) SendFromWallet(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	wallet, err := h.Keystore.Wallet(web.Param(r, "id"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	var send Send
	if err := web.Decode(r, &send); err != nil {
		return decodeError(err)
	}

	tran, err := database.NewSignedTx(wallet, send.ToAddress, send.Amount)

	var delivery node.Receiver = noPeers{}
	if h.Peers != nil {
		delivery = h.Peers
	}

	status := http.StatusOK
	if err := h.Node.SendTransaction(delivery, tran, err); err != nil {
		if !errors.Is(err, node.ErrDelivery) {
			metrics.Transactions.WithLabelValues("wallet", outcome(err)).Inc()
			return txError(err)
		}

		h.Log.Infow("send tran", "traceid", v.TraceID, "hash", tran.Hash(), "WARNING", err)
		status = http.StatusAccepted
	}

	metrics.Transactions.WithLabelValues("wallet", "accepted").Inc()

	return web.Respond(ctx, w, h.toTx(tran), status)
}

// =============================================================================

// share hands the transaction to the worker for sharing, or shares it
// directly when the node runs without a worker.
func (h Handlers) share(traceID string, tran database.Tx) {
	if h.Worker != nil {
		h.Worker.SignalShareTx(tran)
		return
	}

	if h.Peers == nil {
		return
	}

	if err := h.Peers.ReceiveTransaction(tran); err != nil {
		h.Log.Infow("share tran", "traceid", traceID, "hash", tran.Hash(), "WARNING", err)
	}
}

func (h Handlers) toTx(tran database.Tx) tx {
	return tx{
		Hash:        tran.Hash(),
		FromAddress: tran.FromAddress,
		FromName:    h.Keystore.Lookup(tran.FromAddress),
		ToAddress:   tran.ToAddress,
		ToName:      h.Keystore.Lookup(tran.ToAddress),
		Amount:      tran.Amount,
		Signature:   tran.Signature.String(),
	}
}

// txError maps a rejected transaction to the response the client sees.
func txError(err error) error {
	switch {
	case errors.Is(err, mempool.ErrDuplicate):
		return errs.NewTrusted(err, http.StatusConflict)
	case errors.Is(err, chain.ErrInvalidTransaction):
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return err
}

// decodeError marks a payload the client got wrong. Field errors keep
// their detail since the error middleware checks for them first.
func decodeError(err error) error {
	return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
}

func outcome(err error) string {
	if errors.Is(err, mempool.ErrDuplicate) {
		return "duplicate"
	}
	return "rejected"
}

// noPeers accepts every transaction when there is nobody to deliver to.
type noPeers struct{}

func (noPeers) ReceiveTransaction(database.Tx) error { return nil }
