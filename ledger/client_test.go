package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *RPCClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRPCClient(srv.URL, 5*time.Second, zerolog.Nop())
}

func rpcResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  json.RawMessage(raw),
	})
}

func TestBlockNumber(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != "eth_blockNumber" {
			t.Errorf("method = %q, want eth_blockNumber", req.Method)
		}
		rpcResult(t, w, "0x112a880")
	})

	got, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber failed: %v", err)
	}
	if got != 18000000 {
		t.Errorf("BlockNumber = %d, want 18000000", got)
	}
}

func TestFilterLogsDecodesWireFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "eth_getLogs" {
			t.Errorf("method = %q, want eth_getLogs", req.Method)
		}
		rpcResult(t, w, []map[string]any{{
			"blockNumber":      "0x64",
			"blockHash":        "0xAABB",
			"transactionHash":  "0xDEADBEEF",
			"transactionIndex": "0x2",
			"logIndex":         "0x5",
			"address":          "0xCONTRACT",
			"topics":           []string{"0xT0", "0xT1"},
			"data":             "0x00",
		}})
	})

	logs, err := client.FilterLogs(context.Background(), FilterQuery{
		FromBlock: 100, ToBlock: 100, Address: "0xcontract",
	})
	if err != nil {
		t.Fatalf("FilterLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}

	log := logs[0]
	if log.BlockNumber != 100 {
		t.Errorf("block number = %d, want 100", log.BlockNumber)
	}
	if log.TransactionHash != "0xdeadbeef" {
		t.Errorf("tx hash = %q, want lowercased 0xdeadbeef", log.TransactionHash)
	}
	if log.TransactionIndex != 2 || log.LogIndex != 5 {
		t.Errorf("tx/log index = %d/%d, want 2/5", log.TransactionIndex, log.LogIndex)
	}
	if log.Topics[0] != "0xt0" {
		t.Errorf("topic0 = %q, want lowercased 0xt0", log.Topics[0])
	}
}

func TestFilterLogsSkipsRemoved(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, []map[string]any{
			{
				"blockNumber": "0x1", "blockHash": "0xa", "transactionHash": "0xb",
				"transactionIndex": "0x0", "logIndex": "0x0", "address": "0xc",
				"topics": []string{}, "data": "0x", "removed": true,
			},
		})
	})

	logs, err := client.FilterLogs(context.Background(), FilterQuery{FromBlock: 1, ToBlock: 1})
	if err != nil {
		t.Fatalf("FilterLogs failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("got %d logs, want 0 (removed records are dropped)", len(logs))
	}
}

func TestFilterLogsInvalidRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("remote must not be called for an invalid range")
	})

	_, err := client.FilterLogs(context.Background(), FilterQuery{FromBlock: 10, ToBlock: 5})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("error = %v, want ErrInvalidRange", err)
	}
	if IsTransient(err) {
		t.Error("invalid range must be fatal, not transient")
	}
}

func TestFilterLogsMalformedRecordFailsWholeRead(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, []map[string]any{
			{
				"blockNumber": "0x1", "blockHash": "0xa", "transactionHash": "0xb",
				"transactionIndex": "0x0", "logIndex": "0x0", "address": "0xc",
				"topics": []string{}, "data": "0x",
			},
			{
				"blockNumber": "not-hex", "blockHash": "0xa", "transactionHash": "0xb",
				"transactionIndex": "0x0", "logIndex": "0x1", "address": "0xc",
				"topics": []string{}, "data": "0x",
			},
		})
	})

	_, err := client.FilterLogs(context.Background(), FilterQuery{FromBlock: 1, ToBlock: 1})
	if err == nil {
		t.Fatal("want error for undecodable record, got nil")
	}
	if IsTransient(err) {
		t.Error("malformed response must be fatal, not transient")
	}
}

func TestBlockByNumber(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "eth_getBlockByNumber" {
			t.Errorf("method = %q, want eth_getBlockByNumber", req.Method)
		}
		rpcResult(t, w, map[string]any{
			"number":    "0x64",
			"hash":      "0xABCD",
			"timestamp": "0x65f0e100",
		})
	})

	block, err := client.BlockByNumber(context.Background(), 100)
	if err != nil {
		t.Fatalf("BlockByNumber failed: %v", err)
	}
	if block.Number != 100 {
		t.Errorf("number = %d, want 100", block.Number)
	}
	if block.Hash != "0xabcd" {
		t.Errorf("hash = %q, want lowercased 0xabcd", block.Hash)
	}
	if block.Time != time.Unix(0x65f0e100, 0).UTC() {
		t.Errorf("time = %v, want %v", block.Time, time.Unix(0x65f0e100, 0).UTC())
	}
}

func TestBlockByNumberMissing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  nil,
		})
	})

	_, err := client.BlockByNumber(context.Background(), 999)
	if err == nil {
		t.Fatal("want error for missing block, got nil")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantTransient bool
	}{
		{
			name: "HTTP 429",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantTransient: true,
		},
		{
			name: "HTTP 503",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantTransient: true,
		},
		{
			name: "HTTP 400",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			wantTransient: false,
		},
		{
			name: "rpc limit exceeded code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0", "id": 1,
					"error": map[string]any{"code": -32005, "message": "limit exceeded"},
				})
			},
			wantTransient: true,
		},
		{
			name: "rpc rate limit message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0", "id": 1,
					"error": map[string]any{"code": -32000, "message": "rate limit exceeded, slow down"},
				})
			},
			wantTransient: true,
		},
		{
			name: "rpc method not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0", "id": 1,
					"error": map[string]any{"code": -32601, "message": "method not found"},
				})
			},
			wantTransient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.BlockNumber(context.Background())
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, got, tt.wantTransient)
			}
		})
	}
}
