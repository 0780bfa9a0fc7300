package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used by the indexer.
const (
	CollectionEvents  = "events"
	CollectionEntries = "entries"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("document not found")

// Document is one identified JSON document.
type Document struct {
	ID   string
	Data map[string]any
}

// UpsertResult reports the outcome of a bulk upsert. Failed documents
// are logged and counted but never abort their siblings.
type UpsertResult struct {
	Inserted int
	Updated  int
	Failed   int
}

// Add merges another result into this one.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Failed += other.Failed
}

// FindOptions bounds and orders a Find.
type FindOptions struct {
	Limit int
}

// Store is the document-store capability the indexer consumes. Both
// the PostgreSQL and the in-memory implementation provide the same
// semantics: full-document replace on conflicting id, top-level
// containment filters, per-document isolation on bulk writes.
type Store interface {
	EnsureSchema(ctx context.Context) error
	BulkUpsert(ctx context.Context, collection string, docs []Document) (UpsertResult, error)
	FindOne(ctx context.Context, collection, id string) (map[string]any, error)
	Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) ([]map[string]any, error)
	FindMissingField(ctx context.Context, collection, field string) ([]map[string]any, error)
	Ping(ctx context.Context) error
	Close()
}

// DecodeInto re-marshals a stored document into a typed value. Both
// store implementations return documents with JSON types (numbers as
// float64), so a marshal round trip is the uniform way back to structs.
func DecodeInto(doc map[string]any, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
