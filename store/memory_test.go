package store

import (
	"context"
	"errors"
	"testing"
)

func testStore() *MemoryStore {
	return NewMemoryStore([]string{CollectionEvents, CollectionEntries})
}

func TestBulkUpsertCounts(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	res, err := s.BulkUpsert(ctx, CollectionEvents, []Document{
		{ID: "a", Data: map[string]any{"v": 1}},
		{ID: "b", Data: map[string]any{"v": 2}},
	})
	if err != nil {
		t.Fatalf("BulkUpsert failed: %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want 2 inserted", res)
	}

	res, err = s.BulkUpsert(ctx, CollectionEvents, []Document{
		{ID: "b", Data: map[string]any{"v": 20}},
		{ID: "c", Data: map[string]any{"v": 3}},
	})
	if err != nil {
		t.Fatalf("BulkUpsert failed: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 1 {
		t.Errorf("result = %+v, want 1 inserted 1 updated", res)
	}

	// The conflicting document was fully replaced.
	doc, err := s.FindOne(ctx, CollectionEvents, "b")
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if doc["v"] != float64(20) {
		t.Errorf("replaced value = %v, want 20", doc["v"])
	}
}

func TestBulkUpsertIsolatesBadDocuments(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	res, err := s.BulkUpsert(ctx, CollectionEvents, []Document{
		{ID: "good", Data: map[string]any{"v": 1}},
		{ID: "bad", Data: map[string]any{"ch": make(chan int)}}, // not serializable
		{ID: "also-good", Data: map[string]any{"v": 2}},
	})
	if err != nil {
		t.Fatalf("BulkUpsert failed: %v", err)
	}
	if res.Inserted != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 inserted 1 failed", res)
	}

	if _, err := s.FindOne(ctx, CollectionEvents, "also-good"); err != nil {
		t.Errorf("sibling document missing after bad document: %v", err)
	}
}

func TestFindOneNotFound(t *testing.T) {
	s := testStore()
	_, err := s.FindOne(context.Background(), CollectionEvents, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFindFilters(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	_, err := s.BulkUpsert(ctx, CollectionEntries, []Document{
		{ID: "1", Data: map[string]any{"parentHash": "0xroot", "label": "alice", "block": 5}},
		{ID: "2", Data: map[string]any{"parentHash": "0xroot", "label": "bob", "block": 6}},
		{ID: "3", Data: map[string]any{"parentHash": "0xother", "label": "carol", "block": 5}},
	})
	if err != nil {
		t.Fatalf("BulkUpsert failed: %v", err)
	}

	t.Run("string filter", func(t *testing.T) {
		docs, err := s.Find(ctx, CollectionEntries, map[string]any{"parentHash": "0xroot"}, FindOptions{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(docs) != 2 {
			t.Errorf("got %d docs, want 2", len(docs))
		}
	})

	t.Run("numeric filter normalizes types", func(t *testing.T) {
		docs, err := s.Find(ctx, CollectionEntries, map[string]any{"block": 5}, FindOptions{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(docs) != 2 {
			t.Errorf("got %d docs, want 2 (int filter must match stored numbers)", len(docs))
		}
	})

	t.Run("nil filter matches all", func(t *testing.T) {
		docs, err := s.Find(ctx, CollectionEntries, nil, FindOptions{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(docs) != 3 {
			t.Errorf("got %d docs, want 3", len(docs))
		}
	})

	t.Run("limit", func(t *testing.T) {
		docs, err := s.Find(ctx, CollectionEntries, nil, FindOptions{Limit: 2})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(docs) != 2 {
			t.Errorf("got %d docs, want 2", len(docs))
		}
	})

	t.Run("ordered by id", func(t *testing.T) {
		docs, err := s.Find(ctx, CollectionEntries, nil, FindOptions{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if docs[0]["label"] != "alice" || docs[2]["label"] != "carol" {
			t.Errorf("docs not ordered by id: %v", docs)
		}
	})
}

func TestFindMissingField(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	_, err := s.BulkUpsert(ctx, CollectionEntries, []Document{
		{ID: "resolved", Data: map[string]any{"label": "a", "fullName": "a"}},
		{ID: "unresolved", Data: map[string]any{"label": "b"}},
	})
	if err != nil {
		t.Fatalf("BulkUpsert failed: %v", err)
	}

	docs, err := s.FindMissingField(ctx, CollectionEntries, "fullName")
	if err != nil {
		t.Fatalf("FindMissingField failed: %v", err)
	}
	if len(docs) != 1 || docs[0]["label"] != "b" {
		t.Errorf("docs = %v, want exactly the unresolved entry", docs)
	}
}

func TestUnknownCollection(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	if _, err := s.BulkUpsert(ctx, "bogus", []Document{{ID: "x"}}); err == nil {
		t.Error("BulkUpsert to unknown collection must fail")
	}
	if _, err := s.Find(ctx, "bogus", nil, FindOptions{}); err == nil {
		t.Error("Find in unknown collection must fail")
	}
}
