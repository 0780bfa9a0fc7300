package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger provides structured logging for the namegraph indexer
type ComponentLogger struct {
	logger    zerolog.Logger
	component string
	version   string
}

// NewComponentLogger creates a new component logger. Format is either
// "console" (pretty, for development) or "json" (for production pipelines).
func NewComponentLogger(component, version, format string) *ComponentLogger {
	var logger zerolog.Logger

	if format == "json" {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("component", component).
			Str("version", version).
			Logger()
	} else {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(output).
			With().
			Timestamp().
			Str("component", component).
			Str("version", version).
			Logger()
	}

	return &ComponentLogger{
		logger:    logger,
		component: component,
		version:   version,
	}
}

// Info returns an info level event
func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

// Debug returns a debug level event
func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

// Warn returns a warn level event
func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

// Error returns an error level event
func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

// Fatal returns a fatal level event
func (cl *ComponentLogger) Fatal() *zerolog.Event {
	return cl.logger.Fatal()
}

// With creates a child logger with additional context
func (cl *ComponentLogger) With() zerolog.Context {
	return cl.logger.With()
}

// StartupConfig holds configuration for startup logging
type StartupConfig struct {
	RPCEndpoint     string
	ContractAddress string
	StartBlock      uint64
	ChunkSize       uint64
	StoreMode       string
	APIPort         int
	HealthPort      int
	Follow          bool
}

// LogStartup logs startup configuration
func (cl *ComponentLogger) LogStartup(config StartupConfig) {
	cl.Info().
		Str("rpc_endpoint", config.RPCEndpoint).
		Str("contract_address", config.ContractAddress).
		Uint64("start_block", config.StartBlock).
		Uint64("chunk_size", config.ChunkSize).
		Str("store_mode", config.StoreMode).
		Int("api_port", config.APIPort).
		Int("health_port", config.HealthPort).
		Bool("follow", config.Follow).
		Msg("Starting namegraph indexer")
}

// ChunkMetrics holds metrics for one processed chunk
type ChunkMetrics struct {
	FromBlock       uint64
	ToBlock         uint64
	LogsFetched     int
	EventsStoredNew int
	EventsUpdated   int
	EntriesWritten  int
	Warnings        int
	Duration        time.Duration
}

// LogChunk logs per-chunk processing metrics
func (cl *ComponentLogger) LogChunk(metrics ChunkMetrics) {
	blocks := metrics.ToBlock - metrics.FromBlock + 1
	rate := 0.0
	if metrics.Duration > 0 {
		rate = float64(blocks) / metrics.Duration.Seconds()
	}

	cl.Info().
		Uint64("from_block", metrics.FromBlock).
		Uint64("to_block", metrics.ToBlock).
		Int("logs_fetched", metrics.LogsFetched).
		Int("events_new", metrics.EventsStoredNew).
		Int("events_updated", metrics.EventsUpdated).
		Int("entries_written", metrics.EntriesWritten).
		Int("warnings", metrics.Warnings).
		Dur("duration", metrics.Duration).
		Float64("blocks_per_second", rate).
		Msg("Processed chunk")
}

// GetLogger returns the underlying zerolog logger
func (cl *ComponentLogger) GetLogger() zerolog.Logger {
	return cl.logger
}

// SetLevel sets the global logging level
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		log.Warn().Str("level", level).Msg("Unknown log level, defaulting to info")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
