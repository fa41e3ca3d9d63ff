// Package remote provides access to the private API of another node so
// transactions and blocks can be exchanged across processes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/node"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/cenkalti/backoff"
)

const baseURL = "http://%s/v1/node"

// ErrRejected is returned when the peer answered but refused the request.
var ErrRejected = errors.New("peer rejected request")

// Set of defaults for talking to a peer.
const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
)

// =============================================================================

// BlockProposal is the message sent to a peer when a block is proposed. From
// tells the peer where to fetch our chain if it needs to resolve a fork.
type BlockProposal struct {
	From  peer.Peer      `json:"from"`
	Block database.Block `json:"block"`
}

// ProposalResult is the peer's answer to a block proposal.
type ProposalResult struct {
	Result string `json:"result"`
}

// =============================================================================

// Client talks to the private API of one peer. Requests that fail to reach
// the peer or fail on the peer's side are retried with an exponential
// backoff, requests the peer refuses are not.
type Client struct {
	host       string
	origin     peer.Peer
	client     *http.Client
	maxRetries uint64
}

// Option configures a client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// New constructs a client for the peer at the specified host. The origin
// identifies this node to the peer.
func New(host string, origin peer.Peer, opts ...Option) *Client {
	c := Client{
		host:       host,
		origin:     origin,
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &c
}

// Host returns the host of the peer.
func (c *Client) Host() string {
	return c.host
}

// SubmitTx delivers the transaction to the peer's mempool.
func (c *Client) SubmitTx(ctx context.Context, tx database.Tx) error {
	return c.send(ctx, http.MethodPost, "/tx/submit", tx, nil)
}

// ReceiveTransaction implements the node.Receiver interface.
func (c *Client) ReceiveTransaction(tx database.Tx) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout*time.Duration(c.maxRetries+1))
	defer cancel()

	return c.SubmitTx(ctx, tx)
}

// ReceiveBlock implements the node.BlockReceiver interface. The peer fetches
// the chain from the origin of this client, the from argument is not
// reachable over the network.
func (c *Client) ReceiveBlock(ctx context.Context, block database.Block, from node.Source) (node.Result, error) {
	proposal := BlockProposal{
		From:  c.origin,
		Block: block,
	}

	var resp ProposalResult
	if err := c.send(ctx, http.MethodPost, "/block/propose", proposal, &resp); err != nil {
		return 0, err
	}

	return node.ParseResult(resp.Result)
}

// FetchChain implements the node.Source interface.
func (c *Client) FetchChain(ctx context.Context) ([]database.Block, error) {
	var blocks []database.Block
	if err := c.send(ctx, http.MethodGet, "/chain", nil, &blocks); err != nil {
		return nil, err
	}

	return blocks, nil
}

// Status retrieves the status of the peer.
func (c *Client) Status(ctx context.Context) (peer.Status, error) {
	var status peer.Status
	if err := c.send(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return peer.Status{}, err
	}

	return status, nil
}

// Mempool retrieves the pending transactions of the peer.
func (c *Client) Mempool(ctx context.Context) ([]database.Tx, error) {
	var trans []database.Tx
	if err := c.send(ctx, http.MethodGet, "/tx/list", nil, &trans); err != nil {
		return nil, err
	}

	return trans, nil
}

// =============================================================================

// send performs the request against the peer retrying failures that might
// succeed on another attempt.
func (c *Client) send(ctx context.Context, method string, path string, dataSend any, dataRecv any) error {
	url := fmt.Sprintf(baseURL, c.host) + path

	var body []byte
	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = data
	}

	operation := func() error {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return backoff.Permanent(err)
		}

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNoContent:
			return nil

		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, readError(resp.Body))

		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("%w: %s %s: status %d: %s", ErrRejected, method, url, resp.StatusCode, readError(resp.Body)))
		}

		if dataRecv != nil {
			if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}

		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	return backoff.Retry(operation, b)
}

// readError extracts the message from an error response body.
func readError(r io.Reader) string {
	msg, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return err.Error()
	}

	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(msg, &resp); err == nil && resp.Error != "" {
		return resp.Error
	}

	return string(bytes.TrimSpace(msg))
}
