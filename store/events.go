package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/withObsrvr/namegraph-indexer/events"
)

// EventStore persists normalized events keyed by their canonical
// identity (transactionHash:logIndex). Upserting the same event twice
// is a no-op apart from the updated counter, which is what makes
// overlapping ingestion runs safe.
type EventStore struct {
	db  Store
	log zerolog.Logger
}

// NewEventStore wraps a document store.
func NewEventStore(db Store, log zerolog.Logger) *EventStore {
	return &EventStore{db: db, log: log}
}

// UpsertBatch stores a batch of events, replacing full document content
// on conflict, and reports how many were new versus already present.
func (s *EventStore) UpsertBatch(ctx context.Context, evs []events.Event) (UpsertResult, error) {
	docs := make([]Document, 0, len(evs))
	for _, ev := range evs {
		doc, err := eventDocument(ev)
		if err != nil {
			s.log.Warn().Err(err).Str("event_id", ev.ID()).Msg("Event not serializable, skipping")
			continue
		}
		docs = append(docs, doc)
	}
	return s.db.BulkUpsert(ctx, CollectionEvents, docs)
}

// eventDocument flattens a typed event into a document carrying its
// kind tag, so the read side can filter without knowing Go types.
// Identity fields are lowercased so keys and filters agree regardless
// of how the caller cased its hex.
func eventDocument(ev events.Event) (Document, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return Document{}, fmt.Errorf("encode event: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Document{}, fmt.Errorf("decode event: %w", err)
	}
	id := strings.ToLower(ev.ID())
	data["kind"] = string(ev.Kind())
	data["id"] = id
	data["transactionHash"] = strings.ToLower(ev.Meta().TransactionHash)
	return Document{ID: id, Data: data}, nil
}

// ByID fetches one stored event document.
func (s *EventStore) ByID(ctx context.Context, id string) (map[string]any, error) {
	return s.db.FindOne(ctx, CollectionEvents, id)
}

// ByTransaction returns every stored event for a transaction hash.
func (s *EventStore) ByTransaction(ctx context.Context, txHash string) ([]map[string]any, error) {
	return s.db.Find(ctx, CollectionEvents,
		map[string]any{"transactionHash": strings.ToLower(txHash)},
		FindOptions{})
}

// ByKind returns stored events of one kind, most useful for inspection
// endpoints and tests.
func (s *EventStore) ByKind(ctx context.Context, kind events.Kind, limit int) ([]map[string]any, error) {
	return s.db.Find(ctx, CollectionEvents,
		map[string]any{"kind": string(kind)},
		FindOptions{Limit: limit})
}
