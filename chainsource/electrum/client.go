// Package electrum implements a TCP/TLS JSON-RPC client for the Electrum
// server protocol: one long-lived connection, a background reader
// goroutine demultiplexing responses by request ID onto per-call
// channels, and small domain methods layered on top of the generic call.
package electrum

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
)

type request struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("electrum server error %d: %s", e.Code, e.Message)
}

// Client is a connection to a single Electrum server.
type Client struct {
	conn net.Conn
	id   atomic.Uint64

	respMu   sync.Mutex
	respChan map[uint64]chan response

	writeMu sync.Mutex
}

// NewClient dials addr, which may be prefixed with "ssl://" to use TLS or
// "tcp://" for a plaintext connection (tcp is assumed if no scheme is
// given). It starts the background response reader and negotiates the
// protocol version before returning.
func NewClient(ctx context.Context, addr string) (*Client, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:     conn,
		respChan: make(map[uint64]chan response),
	}
	go c.readResponses()

	if err := c.negotiateVersion(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	useTLS := false
	switch {
	case strings.HasPrefix(addr, "ssl://"):
		useTLS = true
		addr = strings.TrimPrefix(addr, "ssl://")
	case strings.HasPrefix(addr, "tcp://"):
		addr = strings.TrimPrefix(addr, "tcp://")
	}

	dialer := &net.Dialer{}
	if useTLS {
		return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{})
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	return net.DialTimeout("tcp", addr, time.Until(deadline))
}

// readResponses decodes the newline-delimited stream of JSON-RPC
// responses and dispatches each to the channel its ID's caller is
// waiting on, discarding any response nobody is waiting for (a
// notification or a response to a call that already timed out).
func (c *Client) readResponses() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Warnf("electrum: failed to decode response: %v", err)
			continue
		}

		c.respMu.Lock()
		ch, ok := c.respChan[resp.ID]
		if ok {
			delete(c.respChan, resp.ID)
		}
		c.respMu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// call issues method with params and waits for its matching response or
// ctx's deadline, whichever comes first.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	id := c.id.Add(1)
	ch := make(chan response, 1)

	c.respMu.Lock()
	c.respChan[id] = ch
	c.respMu.Unlock()

	req := request{ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) negotiateVersion(ctx context.Context) error {
	_, err := c.call(ctx, "server.version", "lnchain", "1.4")
	return err
}

// Close shuts down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// EstimateFee asks the server for its fee estimate, in BTC/kB, for a
// transaction to confirm within numBlocks blocks.
func (c *Client) EstimateFee(ctx context.Context, numBlocks uint32) (float64, error) {
	raw, err := c.call(ctx, "blockchain.estimatefee", numBlocks)
	if err != nil {
		return 0, err
	}
	var rate float64
	if err := json.Unmarshal(raw, &rate); err != nil {
		return 0, err
	}
	return rate, nil
}

// BroadcastTransaction submits a raw, hex-encoded transaction for relay
// and returns the txid the server accepted it under.
func (c *Client) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	raw, err := c.call(ctx, "blockchain.transaction.broadcast", txHex)
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// RegisterTx asks the server for txid via blockchain.transaction.get and
// reports any error it returns. Electrum has no direct "watch this txid"
// RPC, and no script is known here, so no subscription is made: the
// server sends no later updates for txid. Implements
// chainsource.ElectrumClient.
func (c *Client) RegisterTx(txid chainhash.Hash) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := c.call(ctx, "blockchain.transaction.get", txid.String(), false)
	return err
}

// RegisterOutput subscribes to spend notifications for the scripthash
// derived from output.Script. Implements chainsource.ElectrumClient.
func (c *Client) RegisterOutput(output chainio.WatchedOutput) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	scripthash := addressToScriptHash(output.Script)
	_, err := c.call(ctx, "blockchain.scripthash.subscribe", scripthash)
	return err
}

// HistoryEntry is one entry in a scripthash's confirmed/unconfirmed
// transaction history, as the blockchain.scripthash.get_history RPC
// reports it. Height is zero or negative for a mempool transaction (the
// protocol uses -1 for an unconfirmed parent and 0 for anything else
// unconfirmed); a positive height means confirmed at that block.
type HistoryEntry struct {
	Txid   chainhash.Hash
	Height int32
}

// GetScriptHashHistory fetches every confirmed and mempool transaction
// touching the scripthash derived from script.
func (c *Client) GetScriptHashHistory(ctx context.Context, script []byte) ([]HistoryEntry, error) {
	raw, err := c.call(ctx, "blockchain.scripthash.get_history", addressToScriptHash(script))
	if err != nil {
		return nil, err
	}

	var entries []struct {
		TxHash string `json:"tx_hash"`
		Height int32  `json:"height"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("electrum: decoding scripthash history: %w", err)
	}

	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		txid, err := chainhash.NewHashFromStr(e.TxHash)
		if err != nil {
			return nil, fmt.Errorf("electrum: decoding txid %s: %w", e.TxHash, err)
		}
		out = append(out, HistoryEntry{Txid: *txid, Height: e.Height})
	}
	return out, nil
}

// GetTransaction fetches and decodes the raw transaction identified by
// txid.
func (c *Client) GetTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	raw, err := c.call(ctx, "blockchain.transaction.get", txid.String(), false)
	if err != nil {
		return nil, err
	}

	var txHex string
	if err := json.Unmarshal(raw, &txHex); err != nil {
		return nil, fmt.Errorf("electrum: decoding transaction response: %w", err)
	}
	decoded, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("electrum: decoding transaction hex: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(decoded)); err != nil {
		return nil, fmt.Errorf("electrum: deserializing transaction: %w", err)
	}
	return &tx, nil
}

// GetConfirmedHeight reports the height txid confirmed at, and false if
// the server doesn't know it as confirmed (it's unconfirmed in the
// mempool, or the server has never heard of it -- the protocol's merkle
// proof RPC gives no way to tell those two apart, so both are reported as
// "not confirmed" here).
func (c *Client) GetConfirmedHeight(ctx context.Context, txid chainhash.Hash) (int32, bool) {
	raw, err := c.call(ctx, "blockchain.transaction.get_merkle", txid.String())
	if err != nil {
		return 0, false
	}

	var result struct {
		BlockHeight int32 `json:"block_height"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, false
	}
	return result.BlockHeight, true
}

// GetBlockHeader fetches and decodes the raw header at height.
func (c *Client) GetBlockHeader(ctx context.Context, height int32) (*wire.BlockHeader, error) {
	raw, err := c.call(ctx, "blockchain.block.header", height)
	if err != nil {
		return nil, err
	}

	var headerHex string
	if err := json.Unmarshal(raw, &headerHex); err != nil {
		return nil, fmt.Errorf("electrum: decoding header response: %w", err)
	}
	decoded, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, fmt.Errorf("electrum: decoding header hex: %w", err)
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(decoded)); err != nil {
		return nil, fmt.Errorf("electrum: deserializing header: %w", err)
	}
	return &header, nil
}

// GetTip fetches the server's current best header and height via a
// one-shot headers subscription call; it does not register for ongoing
// tip notifications.
func (c *Client) GetTip(ctx context.Context) (*wire.BlockHeader, int32, error) {
	raw, err := c.call(ctx, "blockchain.headers.subscribe")
	if err != nil {
		return nil, 0, err
	}

	var result struct {
		Height int32  `json:"height"`
		Hex    string `json:"hex"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, 0, fmt.Errorf("electrum: decoding tip response: %w", err)
	}
	decoded, err := hex.DecodeString(result.Hex)
	if err != nil {
		return nil, 0, fmt.Errorf("electrum: decoding tip header hex: %w", err)
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(decoded)); err != nil {
		return nil, 0, fmt.Errorf("electrum: deserializing tip header: %w", err)
	}
	return &header, result.Height, nil
}
