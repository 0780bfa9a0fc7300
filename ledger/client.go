package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RPCClient speaks JSON-RPC 2.0 to an EVM-style ledger endpoint over HTTP.
type RPCClient struct {
	endpoint string
	http     *http.Client
	log      zerolog.Logger
	nextID   atomic.Int64
}

// NewRPCClient builds a client with a connection-reusing transport.
func NewRPCClient(endpoint string, timeout time.Duration, log zerolog.Logger) *RPCClient {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &RPCClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout, Transport: tr},
		log:      log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out.
// Errors come back pre-classified: network and throttling failures are
// wrapped as transient, protocol violations stay fatal.
func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Transient(fmt.Errorf("%s: %w", method, err))
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("RPC call")

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Transient(fmt.Errorf("%s: remote returned HTTP %d", method, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: remote returned HTTP %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient(fmt.Errorf("%s: read response: %w", method, err))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("%s: malformed JSON-RPC response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, classifyRPCError(rpcResp.Error))
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%s: malformed result: %w", method, err)
		}
	}
	return nil
}

// BlockNumber returns the current ledger tip.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var hexNum string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &hexNum); err != nil {
		return 0, err
	}
	n, err := ParseQuantity(hexNum)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return n, nil
}

// wireLog is the eth_getLogs representation before field decoding.
type wireLog struct {
	BlockNumber      string   `json:"blockNumber"`
	BlockHash        string   `json:"blockHash"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex"`
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	Removed          bool     `json:"removed"`
}

// FilterLogs returns every log the contract emitted in the closed
// interval [FromBlock, ToBlock]. A single undecodable record fails the
// whole read; there is no partial success.
func (c *RPCClient) FilterLogs(ctx context.Context, q FilterQuery) ([]RawLog, error) {
	if q.ToBlock < q.FromBlock {
		return nil, fmt.Errorf("%w (from=%d to=%d)", ErrInvalidRange, q.FromBlock, q.ToBlock)
	}

	params := []any{map[string]any{
		"address":   strings.ToLower(q.Address),
		"fromBlock": FormatQuantity(q.FromBlock),
		"toBlock":   FormatQuantity(q.ToBlock),
	}}

	var wire []wireLog
	if err := c.call(ctx, "eth_getLogs", params, &wire); err != nil {
		return nil, err
	}

	logs := make([]RawLog, 0, len(wire))
	for i, wl := range wire {
		if wl.Removed {
			continue
		}
		raw, err := decodeWireLog(wl)
		if err != nil {
			return nil, fmt.Errorf("eth_getLogs: log %d: %w", i, err)
		}
		logs = append(logs, raw)
	}
	return logs, nil
}

func decodeWireLog(wl wireLog) (RawLog, error) {
	blockNum, err := ParseQuantity(wl.BlockNumber)
	if err != nil {
		return RawLog{}, fmt.Errorf("blockNumber: %w", err)
	}
	txIndex, err := ParseQuantity(wl.TransactionIndex)
	if err != nil {
		return RawLog{}, fmt.Errorf("transactionIndex: %w", err)
	}
	logIndex, err := ParseQuantity(wl.LogIndex)
	if err != nil {
		return RawLog{}, fmt.Errorf("logIndex: %w", err)
	}

	topics := make([]string, len(wl.Topics))
	for i, t := range wl.Topics {
		topics[i] = strings.ToLower(t)
	}

	return RawLog{
		BlockNumber:      blockNum,
		BlockHash:        strings.ToLower(wl.BlockHash),
		TransactionHash:  strings.ToLower(wl.TransactionHash),
		TransactionIndex: uint32(txIndex),
		LogIndex:         uint32(logIndex),
		Address:          strings.ToLower(wl.Address),
		Topics:           topics,
		Data:             strings.ToLower(wl.Data),
	}, nil
}

// BlockByNumber fetches one block header, primarily for its timestamp.
func (c *RPCClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var wire struct {
		Number    string `json:"number"`
		Hash      string `json:"hash"`
		Timestamp string `json:"timestamp"`
	}
	params := []any{FormatQuantity(number), false}
	if err := c.call(ctx, "eth_getBlockByNumber", params, &wire); err != nil {
		return nil, err
	}
	if wire.Number == "" {
		// The remote answers null for blocks past its tip.
		return nil, fmt.Errorf("eth_getBlockByNumber: block %d not found", number)
	}

	n, err := ParseQuantity(wire.Number)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber: number: %w", err)
	}
	ts, err := ParseQuantity(wire.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber: timestamp: %w", err)
	}

	return &Block{
		Number: n,
		Hash:   strings.ToLower(wire.Hash),
		Time:   time.Unix(int64(ts), 0).UTC(),
	}, nil
}
