package ledger

import (
	"context"
	"time"
)

// RawLog is one event record emitted by a contract, as returned by the
// remote ledger. Hex-encoded fields are normalized to lower case so the
// same on-chain event always produces the same identity downstream.
type RawLog struct {
	BlockNumber      uint64   `json:"blockNumber"`
	BlockHash        string   `json:"blockHash"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex uint32   `json:"transactionIndex"`
	LogIndex         uint32   `json:"logIndex"`
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
}

// Block carries the header fields the indexer needs for enrichment.
type Block struct {
	Number uint64
	Hash   string
	Time   time.Time
}

// FilterQuery selects logs from a closed block interval for one contract.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Address   string
}

// Client is the ledger capability the indexer consumes. Every call may
// fail transiently; callers wrap them with the shared retry policy.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q FilterQuery) ([]RawLog, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
}
