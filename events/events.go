package events

import (
	"fmt"
	"time"
)

// Kind discriminates the normalized event union.
type Kind string

const (
	KindMint     Kind = "mint"
	KindFact     Kind = "fact"
	KindNote     Kind = "note"
	KindGene     Kind = "gene"
	KindTransfer Kind = "transfer"
	KindZero     Kind = "zero"
	KindUpgraded Kind = "upgraded"
)

// Base carries the ledger position every normalized event shares.
// (TransactionHash, LogIndex) is the sole identity key: two ingestion
// runs that observe the same on-chain event produce the same ID, which
// is what makes overlapping runs idempotent.
type Base struct {
	BlockNumber      uint64     `json:"blockNumber"`
	BlockHash        string     `json:"blockHash"`
	TransactionHash  string     `json:"transactionHash"`
	TransactionIndex uint32     `json:"transactionIndex"`
	LogIndex         uint32     `json:"logIndex"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
}

// ID returns the canonical event identity.
func (b *Base) ID() string {
	return fmt.Sprintf("%s:%d", b.TransactionHash, b.LogIndex)
}

// Meta exposes the shared base through the Event interface.
func (b *Base) Meta() *Base { return b }

// Event is the tagged union over the seven normalized variants.
type Event interface {
	Kind() Kind
	ID() string
	Meta() *Base
}

// Mint creates a child entry under a parent.
type Mint struct {
	Base
	ParentHash string `json:"parentHash"`
	ChildHash  string `json:"childHash"`
	LabelHash  string `json:"labelHash"`
	Label      string `json:"label"`
}

func (*Mint) Kind() Kind { return KindMint }

// Fact attaches an immutable keyed value to an entry.
type Fact struct {
	Base
	ParentHash string `json:"parentHash"`
	FactHash   string `json:"factHash"`
	LabelHash  string `json:"labelHash"`
	Label      string `json:"label"`
	Data       string `json:"data"`
}

func (*Fact) Kind() Kind { return KindFact }

// Note attaches a mutable keyed value to an entry.
type Note struct {
	Base
	ParentHash string `json:"parentHash"`
	NoteHash   string `json:"noteHash"`
	LabelHash  string `json:"labelHash"`
	Label      string `json:"label"`
	Data       string `json:"data"`
}

func (*Note) Kind() Kind { return KindNote }

// Gene assigns a delegate implementation address to an entry.
type Gene struct {
	Base
	EntryHash string `json:"entryHash"`
	Address   string `json:"geneAddress"`
}

func (*Gene) Kind() Kind { return KindGene }

// Transfer changes ownership of an entry. EntryID is the token id,
// which coincides with the entry hash.
type Transfer struct {
	Base
	From    string `json:"from"`
	To      string `json:"to"`
	EntryID string `json:"entryId"`
}

func (*Transfer) Kind() Kind { return KindTransfer }

// Zero is an administrative signal, recorded but never folded into the
// graph.
type Zero struct {
	Base
	Address string `json:"zeroTbaAddress"`
}

func (*Zero) Kind() Kind { return KindZero }

// Upgraded is an administrative signal, recorded but never folded into
// the graph.
type Upgraded struct {
	Base
	Address string `json:"implementationAddress"`
}

func (*Upgraded) Kind() Kind { return KindUpgraded }
