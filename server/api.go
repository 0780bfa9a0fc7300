package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/namegraph-indexer/events"
	"github.com/withObsrvr/namegraph-indexer/graph"
	"github.com/withObsrvr/namegraph-indexer/ingest"
	"github.com/withObsrvr/namegraph-indexer/logging"
	"github.com/withObsrvr/namegraph-indexer/store"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// API serves the read endpoints over the projected graph and the
// ingestion control endpoints.
type API struct {
	logger  *logging.ComponentLogger
	entries *graph.EntryStore
	events  *store.EventStore
	runner  *ingest.Runner
	port    int
	server  *http.Server
}

// NewAPI creates the query API server.
func NewAPI(logger *logging.ComponentLogger, entries *graph.EntryStore, events *store.EventStore, runner *ingest.Runner, port int) *API {
	return &API{
		logger:  logger,
		entries: entries,
		events:  events,
		runner:  runner,
		port:    port,
	}
}

// Handler builds the route table. Exposed so tests can drive the API
// without binding a socket.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/entries", a.handleEntriesQuery)
	mux.HandleFunc("/v1/entries/", a.handleEntry)
	mux.HandleFunc("/v1/names", a.handleNameLookup)
	mux.HandleFunc("/v1/events", a.handleEventsQuery)
	mux.HandleFunc("/v1/ingest/status", a.handleIngestStatus)
	mux.HandleFunc("/v1/ingest/run", a.handleIngestRun)
	return mux
}

// Start starts the API server in the background.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.port),
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	a.logger.Info().
		Int("port", a.port).
		Msg("Starting API server")

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error().
				Err(err).
				Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the API server down.
func (a *API) Stop() error {
	if a.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return a.server.Shutdown(ctx)
}

// handleEntry serves GET /v1/entries/{hash} and
// GET /v1/entries/{hash}/children.
func (a *API) handleEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/entries/")
	path = strings.TrimSuffix(path, "/")

	wantChildren := false
	if strings.HasSuffix(path, "/children") {
		wantChildren = true
		path = strings.TrimSuffix(path, "/children")
	}

	hash := strings.ToLower(path)
	if !validHash(hash) {
		respondError(w, "entry hash must be a 0x-prefixed 32-byte hex string", http.StatusBadRequest)
		return
	}

	if wantChildren {
		children, err := a.entries.Children(r.Context(), hash, parseLimit(r, defaultLimit, maxLimit))
		if err != nil {
			respondError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]interface{}{
			"parent":   hash,
			"children": children,
			"count":    len(children),
		})
		return
	}

	entry, err := a.entries.Get(r.Context(), hash)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		respondError(w, "entry not found", http.StatusNotFound)
		return
	}
	respondJSON(w, entry)
}

// handleEntriesQuery serves GET /v1/entries?parent=0x...&limit=N.
func (a *API) handleEntriesQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	parent := strings.ToLower(r.URL.Query().Get("parent"))
	if parent == "" {
		respondError(w, "parent query parameter required", http.StatusBadRequest)
		return
	}
	if !validHash(parent) {
		respondError(w, "parent must be a 0x-prefixed 32-byte hex string", http.StatusBadRequest)
		return
	}

	children, err := a.entries.Children(r.Context(), parent, parseLimit(r, defaultLimit, maxLimit))
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]interface{}{
		"parent":   parent,
		"children": children,
		"count":    len(children),
	})
}

// handleNameLookup serves GET /v1/names?name=a/b.
func (a *API) handleNameLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, "name query parameter required", http.StatusBadRequest)
		return
	}

	entry, err := a.entries.ByFullName(r.Context(), name)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		respondError(w, "name not found", http.StatusNotFound)
		return
	}
	respondJSON(w, entry)
}

// handleEventsQuery serves GET /v1/events?tx=0x... and
// GET /v1/events?kind=mint&limit=N.
func (a *API) handleEventsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if tx := q.Get("tx"); tx != "" {
		docs, err := a.events.ByTransaction(r.Context(), tx)
		if err != nil {
			respondError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]interface{}{
			"transactionHash": strings.ToLower(tx),
			"events":          docs,
			"count":           len(docs),
		})
		return
	}

	if kind := q.Get("kind"); kind != "" {
		docs, err := a.events.ByKind(r.Context(), events.Kind(kind), parseLimit(r, defaultLimit, maxLimit))
		if err != nil {
			respondError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]interface{}{
			"kind":   kind,
			"events": docs,
			"count":  len(docs),
		})
		return
	}

	respondError(w, "tx or kind query parameter required", http.StatusBadRequest)
}

// handleIngestStatus serves GET /v1/ingest/status.
func (a *API) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, a.runner.Snapshot())
}

// handleIngestRun serves POST /v1/ingest/run: processes exactly one
// chunk from the current cursor and returns its report. A 409 means an
// ingestion pass currently holds the lock.
func (a *API) handleIngestRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	rep, err := a.runner.TriggerChunk(r.Context())
	if err != nil {
		if errors.Is(err, ingest.ErrBusy) {
			respondError(w, "ingestion already running", http.StatusConflict)
			return
		}
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.logger.Info().
		Uint64("from_block", rep.FromBlock).
		Uint64("to_block", rep.ToBlock).
		Str("status", string(rep.Status)).
		Msg("Chunk triggered via API")
	respondJSON(w, rep)
}

func validHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return defaultLimit
	}

	if limit > maxLimit {
		return maxLimit
	}

	return limit
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
