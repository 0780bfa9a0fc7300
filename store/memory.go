package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store with the same observable semantics
// as the PostgreSQL implementation. It backs the "memory" store mode
// and the package tests. Documents are kept marshaled so reads hand out
// fresh copies with JSON types, exactly like rows scanned from JSONB.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryStore creates an empty store for the given collections.
func NewMemoryStore(collections []string) *MemoryStore {
	m := &MemoryStore{collections: make(map[string]map[string][]byte)}
	for _, c := range collections {
		m.collections[c] = make(map[string][]byte)
	}
	return m
}

func (m *MemoryStore) collection(name string) (map[string][]byte, error) {
	coll, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	return coll, nil
}

// EnsureSchema is a no-op; collections are created up front.
func (m *MemoryStore) EnsureSchema(ctx context.Context) error {
	return nil
}

// BulkUpsert mirrors the PostgreSQL upsert: full-document replace,
// per-document isolation.
func (m *MemoryStore) BulkUpsert(ctx context.Context, collection string, docs []Document) (UpsertResult, error) {
	var res UpsertResult

	m.mu.Lock()
	defer m.mu.Unlock()

	coll, err := m.collection(collection)
	if err != nil {
		return res, err
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		body, err := json.Marshal(doc.Data)
		if err != nil {
			res.Failed++
			continue
		}
		if _, exists := coll[doc.ID]; exists {
			res.Updated++
		} else {
			res.Inserted++
		}
		coll[doc.ID] = body
	}
	return res, nil
}

// FindOne fetches a document by id.
func (m *MemoryStore) FindOne(ctx context.Context, collection, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	body, ok := coll[id]
	if !ok {
		return nil, ErrNotFound
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Find matches documents whose top-level fields contain the filter
// values, ordered by id.
func (m *MemoryStore) Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) ([]map[string]any, error) {
	// Round-trip the filter through JSON so its values compare equal to
	// stored document values (numbers become float64 on both sides).
	normalized, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	docs, err := m.matching(coll, func(doc map[string]any) bool {
		return containsAll(doc, normalized)
	})
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

// FindMissingField returns documents lacking a top-level field.
func (m *MemoryStore) FindMissingField(ctx context.Context, collection, field string) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	return m.matching(coll, func(doc map[string]any) bool {
		_, present := doc[field]
		return !present
	})
}

func (m *MemoryStore) matching(coll map[string][]byte, match func(map[string]any) bool) ([]map[string]any, error) {
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var docs []map[string]any
	for _, id := range ids {
		var doc map[string]any
		if err := json.Unmarshal(coll[id], &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		if match(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func normalizeFilter(filter map[string]any) (map[string]any, error) {
	if filter == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	return normalized, nil
}

func containsAll(doc, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() {}
