package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/withObsrvr/namegraph-indexer/store"
)

// EntryStore persists namespace entries as documents keyed by entry
// hash. Hashes are normalized to lowercase on every path so lookups
// are case-insensitive.
type EntryStore struct {
	db  store.Store
	log zerolog.Logger
}

func NewEntryStore(db store.Store, log zerolog.Logger) *EntryStore {
	return &EntryStore{db: db, log: log}
}

// Get loads one entry. A missing entry returns (nil, nil); callers in
// the projection path treat absence as data, not as failure.
func (s *EntryStore) Get(ctx context.Context, hash string) (*Entry, error) {
	doc, err := s.db.FindOne(ctx, store.CollectionEntries, strings.ToLower(hash))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", hash, err)
	}
	return decodeEntry(doc)
}

// PutBatch upserts entries with full-document replacement, so replayed
// chunks converge to the same state instead of accumulating duplicates.
func (s *EntryStore) PutBatch(ctx context.Context, entries []*Entry) (store.UpsertResult, error) {
	docs := make([]store.Document, 0, len(entries))
	for _, e := range entries {
		data, err := entryDocument(e)
		if err != nil {
			s.log.Warn().Err(err).Str("entry", e.Hash).Msg("skipping unserializable entry")
			continue
		}
		docs = append(docs, store.Document{ID: strings.ToLower(e.Hash), Data: data})
	}
	return s.db.BulkUpsert(ctx, store.CollectionEntries, docs)
}

// Children returns the entries whose parent is the given hash, ordered
// by entry hash.
func (s *EntryStore) Children(ctx context.Context, parentHash string, limit int) ([]*Entry, error) {
	docs, err := s.db.Find(ctx, store.CollectionEntries,
		map[string]any{"parentHash": strings.ToLower(parentHash)},
		store.FindOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentHash, err)
	}
	return decodeEntries(docs)
}

// ByFullName looks an entry up by its resolved full name. Returns
// (nil, nil) when no entry carries that name.
func (s *EntryStore) ByFullName(ctx context.Context, name string) (*Entry, error) {
	docs, err := s.db.Find(ctx, store.CollectionEntries,
		map[string]any{"fullName": name}, store.FindOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("lookup name %q: %w", name, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decodeEntry(docs[0])
}

// Unresolved returns every entry still lacking a full name.
func (s *EntryStore) Unresolved(ctx context.Context) ([]*Entry, error) {
	docs, err := s.db.FindMissingField(ctx, store.CollectionEntries, "fullName")
	if err != nil {
		return nil, fmt.Errorf("list unresolved entries: %w", err)
	}
	return decodeEntries(docs)
}

func decodeEntry(doc map[string]any) (*Entry, error) {
	var e Entry
	if err := store.DecodeInto(doc, &e); err != nil {
		return nil, err
	}
	if e.Children == nil {
		e.Children = []string{}
	}
	return &e, nil
}

func decodeEntries(docs []map[string]any) ([]*Entry, error) {
	out := make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		e, err := decodeEntry(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func entryDocument(e *Entry) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", e.Hash, err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", e.Hash, err)
	}
	return data, nil
}
