package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/withObsrvr/namegraph-indexer/events"
	"github.com/withObsrvr/namegraph-indexer/graph"
	"github.com/withObsrvr/namegraph-indexer/ingest"
	"github.com/withObsrvr/namegraph-indexer/ledger"
	"github.com/withObsrvr/namegraph-indexer/logging"
	"github.com/withObsrvr/namegraph-indexer/metrics"
	"github.com/withObsrvr/namegraph-indexer/resilience"
	"github.com/withObsrvr/namegraph-indexer/store"
)

type stubLedger struct {
	latest uint64
	logs   []ledger.RawLog
}

func (s *stubLedger) BlockNumber(ctx context.Context) (uint64, error) { return s.latest, nil }
func (s *stubLedger) FilterLogs(ctx context.Context, q ledger.FilterQuery) ([]ledger.RawLog, error) {
	return s.logs, nil
}
func (s *stubLedger) BlockByNumber(ctx context.Context, number uint64) (*ledger.Block, error) {
	return &ledger.Block{Number: number, Time: time.Unix(1750000000, 0).UTC()}, nil
}

func apiHash(b string) string {
	return "0x" + strings.Repeat(b, 32)
}

func newTestAPI(t *testing.T) (*API, *graph.EntryStore, *store.EventStore) {
	t.Helper()
	log := zerolog.Nop()
	clog := logging.NewComponentLogger("api-test", "dev", "console")

	db := store.NewMemoryStore([]string{store.CollectionEvents, store.CollectionEntries})
	entries := graph.NewEntryStore(db, log)
	eventStore := store.NewEventStore(db, log)
	collector := metrics.NewCollector(clog)
	retrier := resilience.NewRetrier(resilience.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffFactor: 2}, ledger.IsTransient, log)

	sched := ingest.NewScheduler(
		ingest.SchedulerConfig{ContractAddress: "0xcontract", TimestampWorkers: 1},
		&stubLedger{latest: 10}, retrier, eventStore,
		graph.NewProjector(entries, log),
		graph.NewResolver(entries, log),
		collector, log,
	)
	cp, err := ingest.NewCheckpoint(filepath.Join(t.TempDir(), "cp.json"))
	if err != nil {
		t.Fatalf("NewCheckpoint failed: %v", err)
	}
	runner := ingest.NewRunner(
		ingest.RunnerConfig{StartBlock: 1, EndBlock: "latest", ChunkSize: 100},
		sched, cp, collector, clog,
	)

	return NewAPI(clog, entries, eventStore, runner, 0), entries, eventStore
}

func seedEntries(t *testing.T, entries *graph.EntryStore) (string, string) {
	t.Helper()
	ctx := context.Background()

	aliceHash := apiHash("aa")
	subHash := apiHash("bb")

	root := graph.NewRoot()
	root.AddChild(aliceHash)

	alice := graph.NewEntry(aliceHash, "alice", graph.RootHash, 10)
	aliceName := "alice"
	alice.FullName = &aliceName
	alice.AddChild(subHash)

	sub := graph.NewEntry(subHash, "www", aliceHash, 12)
	subName := "alice/www"
	sub.FullName = &subName

	if _, err := entries.PutBatch(ctx, []*graph.Entry{root, alice, sub}); err != nil {
		t.Fatalf("PutBatch failed: %v", err)
	}
	return aliceHash, subHash
}

func doRequest(t *testing.T, api *API, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetEntry(t *testing.T) {
	api, entries, _ := newTestAPI(t)
	aliceHash, _ := seedEntries(t, entries)

	rec := doRequest(t, api, http.MethodGet, "/v1/entries/"+aliceHash)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var entry graph.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if entry.Label != "alice" || entry.FullName == nil || *entry.FullName != "alice" {
		t.Errorf("entry = %+v, want alice", entry)
	}
}

func TestGetEntryErrors(t *testing.T) {
	api, entries, _ := newTestAPI(t)
	seedEntries(t, entries)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown hash", "/v1/entries/" + apiHash("99"), http.StatusNotFound},
		{"malformed hash", "/v1/entries/zz", http.StatusBadRequest},
		{"uppercase hex normalized", "/v1/entries/0x" + strings.Repeat("AA", 32), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, api, http.MethodGet, tt.target)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestGetChildren(t *testing.T) {
	api, entries, _ := newTestAPI(t)
	aliceHash, subHash := seedEntries(t, entries)

	for _, target := range []string{
		"/v1/entries/" + aliceHash + "/children",
		"/v1/entries?parent=" + aliceHash,
	} {
		rec := doRequest(t, api, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d: %s", target, rec.Code, rec.Body.String())
		}
		var resp struct {
			Parent   string        `json:"parent"`
			Children []graph.Entry `json:"children"`
			Count    int           `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Count != 1 || len(resp.Children) != 1 || resp.Children[0].Hash != subHash {
			t.Errorf("GET %s = %+v, want single child %s", target, resp, subHash)
		}
	}
}

func TestEntriesQueryRequiresParent(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rec := doRequest(t, api, http.MethodGet, "/v1/entries")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestNameLookup(t *testing.T) {
	api, entries, _ := newTestAPI(t)
	_, subHash := seedEntries(t, entries)

	rec := doRequest(t, api, http.MethodGet, "/v1/names?name=alice/www")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var entry graph.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if entry.Hash != subHash {
		t.Errorf("hash = %s, want %s", entry.Hash, subHash)
	}

	rec = doRequest(t, api, http.MethodGet, "/v1/names?name=alice/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing name status = %d, want 404", rec.Code)
	}
	rec = doRequest(t, api, http.MethodGet, "/v1/names")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing param status = %d, want 400", rec.Code)
	}
}

func TestEventsQuery(t *testing.T) {
	api, _, eventStore := newTestAPI(t)

	mint := &events.Mint{
		Base: events.Base{
			BlockNumber:     7,
			TransactionHash: apiHash("ab"),
			LogIndex:        0,
		},
		ParentHash: graph.RootHash,
		ChildHash:  apiHash("11"),
		LabelHash:  apiHash("33"),
		Label:      "alice",
	}
	if _, err := eventStore.UpsertBatch(context.Background(), []events.Event{mint}); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}

	rec := doRequest(t, api, http.MethodGet, "/v1/events?tx="+apiHash("ab"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Events []map[string]any `json:"events"`
		Count  int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Count != 1 || resp.Events[0]["kind"] != "mint" {
		t.Errorf("response = %+v, want one mint", resp)
	}

	rec = doRequest(t, api, http.MethodGet, "/v1/events?kind=mint")
	if rec.Code != http.StatusOK {
		t.Fatalf("kind query status = %d", rec.Code)
	}
	rec = doRequest(t, api, http.MethodGet, "/v1/events")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no filter status = %d, want 400", rec.Code)
	}
}

func TestIngestStatusAndRun(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/v1/ingest/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	var st ingest.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if st.NextStartBlock != 1 {
		t.Errorf("cursor = %d, want configured start 1", st.NextStartBlock)
	}

	// One chunk covers blocks 1..10 (stub tip is 10, chunk size 100).
	rec = doRequest(t, api, http.MethodPost, "/v1/ingest/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("run endpoint = %d: %s", rec.Code, rec.Body.String())
	}
	var rep ingest.ChunkReport
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rep.Status != ingest.StatusCompleted || rep.FromBlock != 1 || rep.ToBlock != 10 {
		t.Errorf("report = %+v, want completed 1..10", rep)
	}

	// Method enforcement.
	rec = doRequest(t, api, http.MethodGet, "/v1/ingest/run")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET run = %d, want 405", rec.Code)
	}
}
