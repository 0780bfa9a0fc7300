package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/withObsrvr/namegraph-indexer/logging"
	"github.com/withObsrvr/namegraph-indexer/metrics"
)

func newTestHealth(t *testing.T) *HealthServer {
	t.Helper()
	clog := logging.NewComponentLogger("health-test", "dev", "console")
	return NewHealthServer(clog, metrics.NewCollector(clog), 0, "dev")
}

func checkHealth(t *testing.T, h *HealthServer) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handleHealth(time.Now())(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return rec.Code, status
}

func TestHealthAggregation(t *testing.T) {
	h := newTestHealth(t)
	h.RegisterComponent("document_store")
	h.RegisterComponent("ingestion")

	// Components start unhealthy until their first check reports in.
	code, status := checkHealth(t, h)
	if code != http.StatusServiceUnavailable || status.Status != "unhealthy" {
		t.Errorf("initial = %d %q, want 503 unhealthy", code, status.Status)
	}

	h.UpdateComponentHealth("document_store", true, nil, nil)
	code, status = checkHealth(t, h)
	if code != http.StatusOK || status.Status != "degraded" {
		t.Errorf("partial = %d %q, want 200 degraded", code, status.Status)
	}

	h.UpdateComponentHealth("ingestion", true, nil, nil)
	code, status = checkHealth(t, h)
	if code != http.StatusOK || status.Status != "healthy" {
		t.Errorf("full = %d %q, want 200 healthy", code, status.Status)
	}

	h.UpdateComponentHealth("ingestion", false, errors.New("chunk failed"), nil)
	code, status = checkHealth(t, h)
	if code != http.StatusOK || status.Status != "degraded" {
		t.Errorf("after failure = %d %q, want 200 degraded", code, status.Status)
	}
	if status.Components["ingestion"].LastError != "chunk failed" {
		t.Errorf("LastError = %q, want chunk failed", status.Components["ingestion"].LastError)
	}
}

func TestReadinessTracksStore(t *testing.T) {
	h := newTestHealth(t)

	ready := func() int {
		rec := httptest.NewRecorder()
		h.handleReady()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		return rec.Code
	}

	// Before any registration the store is assumed reachable.
	if code := ready(); code != http.StatusOK {
		t.Errorf("unregistered = %d, want 200", code)
	}

	h.RegisterComponent("document_store")
	if code := ready(); code != http.StatusServiceUnavailable {
		t.Errorf("registered but unchecked = %d, want 503", code)
	}

	h.UpdateComponentHealth("document_store", true, nil, nil)
	if code := ready(); code != http.StatusOK {
		t.Errorf("healthy store = %d, want 200", code)
	}

	h.UpdateComponentHealth("document_store", false, errors.New("connection refused"), nil)
	if code := ready(); code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy store = %d, want 503", code)
	}
}
