package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/namegraph-indexer/config"
	"github.com/withObsrvr/namegraph-indexer/graph"
	"github.com/withObsrvr/namegraph-indexer/ingest"
	"github.com/withObsrvr/namegraph-indexer/ledger"
	"github.com/withObsrvr/namegraph-indexer/logging"
	"github.com/withObsrvr/namegraph-indexer/metrics"
	"github.com/withObsrvr/namegraph-indexer/resilience"
	"github.com/withObsrvr/namegraph-indexer/server"
	"github.com/withObsrvr/namegraph-indexer/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logging.SetLevel(cfg.Service.LogLevel)
	logger := logging.NewComponentLogger(cfg.Service.Name, cfg.Service.Version, cfg.Service.LogFormat)
	logger.LogStartup(logging.StartupConfig{
		RPCEndpoint:     cfg.Ledger.Endpoint,
		ContractAddress: cfg.Ledger.ContractAddress,
		StartBlock:      cfg.Ingest.StartBlock,
		ChunkSize:       cfg.Ingest.ChunkSize,
		StoreMode:       cfg.Store.Mode,
		APIPort:         cfg.API.Port,
		HealthPort:      cfg.API.HealthPort,
		Follow:          cfg.Ingest.Follow,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the document store and make sure the collections exist
	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open document store")
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		logger.Fatal().Err(err).Msg("Failed to ensure store schema")
	}

	collector := metrics.NewCollector(logger)

	retrier := resilience.NewRetrier(resilience.Policy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		BackoffFactor: 2.0,
		MaxJitter:     cfg.Retry.MaxJitter,
	}, ledger.IsTransient, logger.GetLogger())
	retrier.OnRetry = func(operation string, attempt int, err error) {
		collector.RecordRetry()
	}

	client := ledger.NewRPCClient(cfg.Ledger.Endpoint, cfg.Ledger.RequestTimeout, logger.GetLogger())

	// Projection pipeline
	eventStore := store.NewEventStore(db, logger.GetLogger())
	entryStore := graph.NewEntryStore(db, logger.GetLogger())
	projector := graph.NewProjector(entryStore, logger.GetLogger())
	resolver := graph.NewResolver(entryStore, logger.GetLogger())

	checkpoint, err := ingest.NewCheckpoint(cfg.Ingest.CheckpointPath)
	if err != nil {
		db.Close()
		logger.Fatal().Err(err).Msg("Failed to load checkpoint")
	}

	scheduler := ingest.NewScheduler(ingest.SchedulerConfig{
		ContractAddress:  cfg.Ledger.ContractAddress,
		TimestampWorkers: cfg.Ingest.TimestampWorkers,
	}, client, retrier, eventStore, projector, resolver, collector, logger.GetLogger())

	runner := ingest.NewRunner(ingest.RunnerConfig{
		StartBlock:     cfg.Ingest.StartBlock,
		EndBlock:       cfg.Ingest.EndBlock,
		ChunkSize:      cfg.Ingest.ChunkSize,
		PacingDelay:    cfg.Ingest.PacingDelay,
		Follow:         cfg.Ingest.Follow,
		FollowInterval: cfg.Ingest.FollowInterval,
	}, scheduler, checkpoint, collector, logger)

	// Health and metrics endpoints
	health := server.NewHealthServer(logger, collector, cfg.API.HealthPort, cfg.Service.Version)
	health.RegisterComponent("document_store")
	health.RegisterComponent("ingestion")
	health.UpdateComponentHealth("document_store", true, nil, nil)
	health.UpdateComponentHealth("ingestion", true, nil, nil)
	if err := health.Start(time.Now()); err != nil {
		db.Close()
		logger.Fatal().Err(err).Msg("Failed to start health server")
	}
	go health.MonitorStore(ctx, db)
	go health.MonitorIngestion(ctx, runner)

	// Query API
	api := server.NewAPI(logger, entryStore, eventStore, runner, cfg.API.Port)
	if err := api.Start(); err != nil {
		db.Close()
		logger.Fatal().Err(err).Msg("Failed to start API server")
	}

	// Ingestion runs in the background; the query API stays up even when
	// a pass fails, so operators can inspect state and retry over HTTP.
	go func() {
		err := runner.Run(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			logger.Error().Err(err).Msg("Ingestion stopped; POST /v1/ingest/run retries from the checkpoint")
		case !cfg.Ingest.Follow:
			logger.Info().Msg("Ingestion pass complete, serving queries")
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	if err := api.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := health.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping health server")
	}
	db.Close()

	logger.Info().Msg("Namegraph indexer stopped")
}

// openStore picks the document store implementation from configuration.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.ComponentLogger) (store.Store, error) {
	collections := []string{store.CollectionEvents, store.CollectionEntries}
	if cfg.Store.Mode == "memory" {
		logger.Warn().Msg("Using in-memory store, documents will not survive a restart")
		return store.NewMemoryStore(collections), nil
	}
	return store.NewPostgresStore(ctx, cfg.Store.Postgres.ConnectionString(), collections, logger.GetLogger())
}
