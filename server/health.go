package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/withObsrvr/namegraph-indexer/ingest"
	"github.com/withObsrvr/namegraph-indexer/logging"
	"github.com/withObsrvr/namegraph-indexer/metrics"
	"github.com/withObsrvr/namegraph-indexer/store"
)

// HealthServer provides the operational endpoints: /health, /ready and
// the Prometheus scrape target.
type HealthServer struct {
	logger    *logging.ComponentLogger
	collector *metrics.Collector
	port      int
	version   string
	server    *http.Server

	mu         sync.RWMutex
	components map[string]*ComponentHealth
}

// ComponentHealth tracks health of a component
type ComponentHealth struct {
	Name      string      `json:"name"`
	Healthy   bool        `json:"healthy"`
	LastCheck time.Time   `json:"last_check"`
	LastError string      `json:"last_error,omitempty"`
	Detail    interface{} `json:"detail,omitempty"`
}

// HealthStatus represents overall service health
type HealthStatus struct {
	Status     string                      `json:"status"` // healthy, degraded, unhealthy
	Version    string                      `json:"version"`
	Uptime     string                      `json:"uptime"`
	Components map[string]*ComponentHealth `json:"components"`
	Timestamp  time.Time                   `json:"timestamp"`
}

// NewHealthServer creates a new health server
func NewHealthServer(logger *logging.ComponentLogger, collector *metrics.Collector, port int, version string) *HealthServer {
	return &HealthServer{
		logger:     logger,
		collector:  collector,
		port:       port,
		version:    version,
		components: make(map[string]*ComponentHealth),
	}
}

// RegisterComponent registers a component for health monitoring
func (h *HealthServer) RegisterComponent(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.components[name] = &ComponentHealth{
		Name:      name,
		Healthy:   false,
		LastCheck: time.Now(),
	}
}

// UpdateComponentHealth updates a component's health status
func (h *HealthServer) UpdateComponentHealth(name string, healthy bool, err error, detail interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	component, exists := h.components[name]
	if !exists {
		component = &ComponentHealth{Name: name}
		h.components[name] = component
	}

	component.Healthy = healthy
	component.LastCheck = time.Now()
	component.Detail = detail

	if err != nil {
		component.LastError = err.Error()
	} else {
		component.LastError = ""
	}
}

// Start starts the health server
func (h *HealthServer) Start(startTime time.Time) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth(startTime))
	mux.HandleFunc("/ready", h.handleReady())
	mux.Handle("/metrics", h.collector.Handler())

	h.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.port),
		Handler: mux,
	}

	h.logger.Info().
		Int("port", h.port).
		Msg("Starting health server")

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error().
				Err(err).
				Msg("Health server error")
		}
	}()

	return nil
}

// Stop stops the health server
func (h *HealthServer) Stop() error {
	if h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return h.server.Shutdown(ctx)
}

func (h *HealthServer) handleHealth(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		defer h.mu.RUnlock()

		status := "healthy"
		unhealthyCount := 0
		for _, comp := range h.components {
			if !comp.Healthy {
				unhealthyCount++
			}
		}
		if unhealthyCount > 0 {
			if unhealthyCount == len(h.components) {
				status = "unhealthy"
			} else {
				status = "degraded"
			}
		}

		health := HealthStatus{
			Status:     status,
			Version:    h.version,
			Uptime:     time.Since(startTime).String(),
			Components: h.components,
			Timestamp:  time.Now(),
		}

		statusCode := http.StatusOK
		if status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(health)
	}
}

func (h *HealthServer) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		defer h.mu.RUnlock()

		// The document store is the critical dependency: without it no
		// reads or writes can be served.
		storeHealthy := true
		if comp, exists := h.components["document_store"]; exists {
			storeHealthy = comp.Healthy
		}

		if storeHealthy {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready\n"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready\n"))
		}
	}
}

// MonitorStore pings the document store on a fixed interval.
func (h *HealthServer) MonitorStore(ctx context.Context, db store.Store) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := db.Ping(pingCtx)
			cancel()
			h.UpdateComponentHealth("document_store", err == nil, err, nil)
		}
	}
}

// MonitorIngestion mirrors the runner state into component health.
func (h *HealthServer) MonitorIngestion(ctx context.Context, runner *ingest.Runner) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := runner.Snapshot()
			healthy := snap.Status != ingest.StatusError
			var lastErr error
			if !healthy && snap.LastError != "" {
				lastErr = errors.New(snap.LastError)
			}
			h.UpdateComponentHealth("ingestion", healthy, lastErr, snap)
		}
	}
}
