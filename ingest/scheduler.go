package ingest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/namegraph-indexer/events"
	"github.com/withObsrvr/namegraph-indexer/graph"
	"github.com/withObsrvr/namegraph-indexer/ledger"
	"github.com/withObsrvr/namegraph-indexer/metrics"
	"github.com/withObsrvr/namegraph-indexer/resilience"
	"github.com/withObsrvr/namegraph-indexer/store"
)

// Status classifies the outcome of one chunk.
type Status string

const (
	// StatusRunning means the chunk completed and more blocks remain
	// before the pass target.
	StatusRunning Status = "running"
	// StatusCompleted means the chunk consumed the last blocks of the
	// pass target.
	StatusCompleted Status = "completed"
	// StatusError means the chunk failed after retries; the resume
	// point still points at its first block.
	StatusError Status = "error"
)

// ChunkReport is the resumable cursor returned for every processed
// chunk. NextStartBlock is always safe to feed into the next call: on
// success it points past the chunk, on failure back at its start.
type ChunkReport struct {
	Status          Status `json:"status"`
	FromBlock       uint64 `json:"fromBlock"`
	ToBlock         uint64 `json:"toBlock"`
	NextStartBlock  uint64 `json:"nextStartBlock"`
	LogsFetched     int    `json:"logsFetched"`
	EventsInChunk   int    `json:"eventsInChunk"`
	NewEventsStored int    `json:"newEventsStored"`
	UpdatedEvents   int    `json:"updatedEvents"`
	EntriesWritten  int    `json:"entriesWritten"`
	NamesResolved   int    `json:"namesResolved"`
	Warnings        int    `json:"warnings"`
	MalformedLogs   int    `json:"malformedLogs"`
	DurationMS      int64  `json:"durationMs"`
	Error           string `json:"error,omitempty"`
}

// SchedulerConfig carries the per-chunk processing knobs.
type SchedulerConfig struct {
	ContractAddress  string
	TimestampWorkers int
}

// Scheduler processes one chunk at a time: fetch logs, enrich with
// block timestamps, normalize, store events, fold into the graph and
// resolve names. It holds no cursor of its own; callers own the pass
// state and thread it through RunChunk.
type Scheduler struct {
	cfg       SchedulerConfig
	client    ledger.Client
	retrier   *resilience.Retrier
	events    *store.EventStore
	projector *graph.Projector
	resolver  *graph.Resolver
	collector *metrics.Collector
	log       zerolog.Logger
}

func NewScheduler(cfg SchedulerConfig, client ledger.Client, retrier *resilience.Retrier,
	eventStore *store.EventStore, projector *graph.Projector, resolver *graph.Resolver,
	collector *metrics.Collector, log zerolog.Logger) *Scheduler {
	if cfg.TimestampWorkers <= 0 {
		cfg.TimestampWorkers = 4
	}
	return &Scheduler{
		cfg:       cfg,
		client:    client,
		retrier:   retrier,
		events:    eventStore,
		projector: projector,
		resolver:  resolver,
		collector: collector,
		log:       log,
	}
}

// ResolveTarget turns the configured end of ingestion into a concrete
// block number. "latest" (or empty) asks the ledger once; the result
// is pinned for the whole pass so the target never drifts mid-pass.
func (s *Scheduler) ResolveTarget(ctx context.Context, endSpec string) (uint64, error) {
	if endSpec == "" || endSpec == "latest" {
		return resilience.ExecuteWithResult(ctx, s.retrier, "eth_blockNumber", func() (uint64, error) {
			return s.client.BlockNumber(ctx)
		})
	}
	n, err := strconv.ParseUint(endSpec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid end block %q: %w", endSpec, err)
	}
	return n, nil
}

// RunChunk processes exactly one chunk and returns its report. target
// is the pass target, used only to decide between the running and
// completed statuses. Failures never advance the cursor.
func (s *Scheduler) RunChunk(ctx context.Context, rng Range, target uint64) ChunkReport {
	start := time.Now()
	rep := ChunkReport{
		Status:         StatusRunning,
		FromBlock:      rng.From,
		ToBlock:        rng.To,
		NextStartBlock: rng.From,
	}

	logs, err := resilience.ExecuteWithResult(ctx, s.retrier, "eth_getLogs", func() ([]ledger.RawLog, error) {
		return s.client.FilterLogs(ctx, ledger.FilterQuery{
			FromBlock: rng.From,
			ToBlock:   rng.To,
			Address:   s.cfg.ContractAddress,
		})
	})
	if err != nil {
		return s.fail(rep, start, "fetch logs", err)
	}
	rep.LogsFetched = len(logs)

	evs, malformed := s.normalize(ctx, logs)
	rep.EventsInChunk = len(evs)
	rep.MalformedLogs = malformed

	res, err := s.events.UpsertBatch(ctx, evs)
	if err != nil {
		return s.fail(rep, start, "store events", err)
	}
	rep.NewEventsStored = res.Inserted
	rep.UpdatedEvents = res.Updated
	s.collector.RecordEventsStored(res.Inserted, res.Updated, res.Failed)

	prj, err := s.projector.Apply(ctx, evs)
	if err != nil {
		return s.fail(rep, start, "project entries", err)
	}
	rep.EntriesWritten = prj.EntriesWritten
	rep.Warnings = prj.Warnings
	s.collector.RecordProjectionWarnings(prj.Warnings)
	s.collector.RecordPlaceholders(prj.Placeholders)

	rsv, err := s.resolver.ResolveAll(ctx)
	if err != nil {
		return s.fail(rep, start, "resolve names", err)
	}
	rep.NamesResolved = rsv.Resolved
	s.collector.RecordNamesResolved(rsv.Resolved)

	rep.NextStartBlock = rng.To + 1
	if rep.NextStartBlock > target {
		rep.Status = StatusCompleted
	}
	rep.DurationMS = time.Since(start).Milliseconds()
	s.collector.RecordChunkProcessed(time.Since(start).Seconds())
	return rep
}

func (s *Scheduler) fail(rep ChunkReport, start time.Time, stage string, err error) ChunkReport {
	rep.Status = StatusError
	rep.Error = fmt.Sprintf("%s: %v", stage, err)
	rep.NextStartBlock = rep.FromBlock
	rep.DurationMS = time.Since(start).Milliseconds()
	s.collector.RecordChunkFailure()
	s.log.Error().
		Uint64("from_block", rep.FromBlock).
		Uint64("to_block", rep.ToBlock).
		Str("stage", stage).
		Err(err).
		Msg("Chunk failed")
	return rep
}

// normalize turns raw logs into typed events, enriched with block
// timestamps where available. Logs with foreign topics are skipped
// silently; malformed tuples for known topics are dropped with a
// warning and counted. The result is ordered by block then log index.
func (s *Scheduler) normalize(ctx context.Context, logs []ledger.RawLog) ([]events.Event, int) {
	timestamps := s.fetchTimestamps(ctx, uniqueBlocks(logs))

	evs := make([]events.Event, 0, len(logs))
	malformed := 0
	for _, lg := range logs {
		var ts *time.Time
		if t, ok := timestamps[lg.BlockNumber]; ok {
			tt := t
			ts = &tt
		}
		ev, err := events.Normalize(lg, ts)
		if err != nil {
			malformed++
			s.log.Warn().
				Str("tx_hash", lg.TransactionHash).
				Uint32("log_index", lg.LogIndex).
				Err(err).
				Msg("Dropping malformed event log")
			continue
		}
		if ev == nil {
			continue
		}
		s.collector.RecordEventNormalized(string(ev.Kind()))
		evs = append(evs, ev)
	}

	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i].Meta(), evs[j].Meta()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
	return evs, malformed
}

// fetchTimestamps loads block headers with bounded concurrency. A
// failed header read degrades the affected events to timestamp-absent
// instead of failing the chunk.
func (s *Scheduler) fetchTimestamps(ctx context.Context, blocks []uint64) map[uint64]time.Time {
	out := make(map[uint64]time.Time, len(blocks))
	if len(blocks) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.TimestampWorkers)
	for _, number := range blocks {
		number := number
		g.Go(func() error {
			blk, err := resilience.ExecuteWithResult(gctx, s.retrier, "eth_getBlockByNumber", func() (*ledger.Block, error) {
				return s.client.BlockByNumber(gctx, number)
			})
			if err != nil {
				s.log.Warn().
					Uint64("block", number).
					Err(err).
					Msg("Timestamp fetch failed, events proceed without timestamps")
				return nil
			}
			mu.Lock()
			out[blk.Number] = blk.Time
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait is just the join point.
	_ = g.Wait()
	return out
}

func uniqueBlocks(logs []ledger.RawLog) []uint64 {
	seen := make(map[uint64]bool, len(logs))
	var blocks []uint64
	for _, lg := range logs {
		if !seen[lg.BlockNumber] {
			seen[lg.BlockNumber] = true
			blocks = append(blocks, lg.BlockNumber)
		}
	}
	return blocks
}
