// Package esplora implements a minimal Esplora HTTP REST client: fee
// estimates, transaction broadcast, and the tip, block-header, address
// history, transaction status and raw transaction lookups the
// Esplora-backed chain source uses for its wallet and Lightning scans.
// No Go Esplora client is available
// in the example corpus this module was grounded on, so this talks to the
// REST API directly over net/http -- a deliberate, narrow stdlib choice
// documented in DESIGN.md, not a default.
package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/wire"
)

// HTTPStatusError is returned when the Esplora server answers with a
// non-2xx status. Callers (the broadcast closure in particular) type-
// assert for this to special-case HTTP 400, which Esplora uses for
// "transaction already in mempool or conflicts," a routine race rather
// than a real failure.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("esplora: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is a narrow Esplora REST client bound to one server.
type Client struct {
	baseURL string
	http    *http.Client
	sem     chan struct{}
}

// NewClient returns a client targeting baseURL (e.g.
// "https://blockstream.info/api"), bounding concurrent requests to
// concurrency and each individual request to timeout.
func NewClient(baseURL string, concurrency int, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		sem:     make(chan struct{}, concurrency),
	}
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// GetFeeEstimates fetches the server's fee-estimates map, keyed by
// confirmation-target block count, valued in sat/vB.
func (c *Client) GetFeeEstimates(ctx context.Context) (map[uint32]float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/fee-estimates", nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("esplora: decoding fee estimates: %w", err)
	}

	out := make(map[uint32]float64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		out[uint32(n)] = v
	}
	return out, nil
}

// BroadcastTx submits a raw transaction, hex-encoded, for relay. Callers
// should check for *HTTPStatusError with StatusCode 400 and treat it as a
// trace-level event rather than a hard failure; see package chainsource's
// broadcast pump wiring.
func (c *Client) BroadcastTx(ctx context.Context, txHex string) error {
	_, err := c.do(ctx, http.MethodPost, "/tx", bytes.NewBufferString(txHex))
	return err
}

// GetTipHeight fetches the server's current best block height.
func (c *Client) GetTipHeight(ctx context.Context) (int32, error) {
	body, err := c.do(ctx, http.MethodGet, "/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("esplora: decoding tip height: %w", err)
	}
	return int32(n), nil
}

// GetTipHash fetches the server's current best block hash, hex-encoded.
func (c *Client) GetTipHash(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/blocks/tip/hash", nil)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(body)), nil
}

// GetBlockHeader fetches and decodes the raw 80-byte header of the block
// identified by hash.
func (c *Client) GetBlockHeader(ctx context.Context, blockHash string) (*wire.BlockHeader, error) {
	body, err := c.do(ctx, http.MethodGet, "/block/"+blockHash+"/header", nil)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(string(bytes.TrimSpace(body)))
	if err != nil {
		return nil, fmt.Errorf("esplora: decoding block header hex: %w", err)
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("esplora: deserializing block header: %w", err)
	}
	return &header, nil
}

// TxStatus is a transaction's confirmation status as Esplora reports it.
type TxStatus struct {
	Txid        string
	Confirmed   bool
	BlockHeight int32
	BlockHash   string
}

// GetTxStatus fetches the confirmation status of a single transaction by
// txid, independent of any address history.
func (c *Client) GetTxStatus(ctx context.Context, txid string) (TxStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/tx/"+txid+"/status", nil)
	if err != nil {
		return TxStatus{}, err
	}

	var raw struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int32  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return TxStatus{}, fmt.Errorf("esplora: decoding tx status: %w", err)
	}
	return TxStatus{
		Txid:        txid,
		Confirmed:   raw.Confirmed,
		BlockHeight: raw.BlockHeight,
		BlockHash:   raw.BlockHash,
	}, nil
}

// GetBlockHashAtHeight fetches the block hash at height.
func (c *Client) GetBlockHashAtHeight(ctx context.Context, height int32) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/block-height/"+strconv.FormatInt(int64(height), 10), nil)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(body)), nil
}

// GetAddressTxHistory fetches every transaction touching address, newest
// first, along with each one's confirmation status. Esplora indexes
// transaction history by address rather than by scripthash, so script
// watching requires deriving the corresponding address first.
func (c *Client) GetAddressTxHistory(ctx context.Context, address string) ([]TxStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/address/"+address+"/txs", nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Txid   string `json:"txid"`
		Status struct {
			Confirmed   bool   `json:"confirmed"`
			BlockHeight int32  `json:"block_height"`
			BlockHash   string `json:"block_hash"`
		} `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("esplora: decoding address history: %w", err)
	}

	out := make([]TxStatus, len(raw))
	for i, tx := range raw {
		out[i] = TxStatus{
			Txid:        tx.Txid,
			Confirmed:   tx.Status.Confirmed,
			BlockHeight: tx.Status.BlockHeight,
			BlockHash:   tx.Status.BlockHash,
		}
	}
	return out, nil
}

// GetTx fetches and decodes the raw transaction identified by txid.
func (c *Client) GetTx(ctx context.Context, txid string) (*wire.MsgTx, error) {
	body, err := c.do(ctx, http.MethodGet, "/tx/"+txid+"/hex", nil)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(string(bytes.TrimSpace(body)))
	if err != nil {
		return nil, fmt.Errorf("esplora: decoding tx hex: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("esplora: deserializing tx: %w", err)
	}
	return &tx, nil
}
