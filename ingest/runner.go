package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/namegraph-indexer/logging"
	"github.com/withObsrvr/namegraph-indexer/metrics"
)

// ErrBusy is returned when a chunk is requested while a pass holds the
// ingestion lock.
var ErrBusy = errors.New("ingestion pass already running")

// State is a snapshot of ingestion progress. It is an explicit value
// handed to observers; nothing mutates it behind the caller's back.
type State struct {
	PassID          string `json:"passId,omitempty"`
	Status          Status `json:"status"`
	NextStartBlock  uint64 `json:"nextStartBlock"`
	TargetBlock     uint64 `json:"targetBlock"`
	ChunksProcessed int    `json:"chunksProcessed"`
	EventsStored    int    `json:"eventsStored"`
	WarningCount    int    `json:"warningCount"`
	LastError       string `json:"lastError,omitempty"`
}

// RunnerConfig carries the pass-level knobs.
type RunnerConfig struct {
	StartBlock     uint64
	EndBlock       string // decimal block number or "latest"
	ChunkSize      uint64
	PacingDelay    time.Duration
	Follow         bool
	FollowInterval time.Duration
}

// Runner drives ingestion passes over the scheduler: it resolves the
// pass target once, partitions the remaining interval, processes the
// chunks in order with fixed pacing, and stops at the first failure so
// the next pass resumes from the same chunk. One runner serializes all
// ingestion; a concurrent trigger gets ErrBusy instead of interleaving.
type Runner struct {
	cfg        RunnerConfig
	scheduler  *Scheduler
	checkpoint *Checkpoint
	collector  *metrics.Collector
	log        *logging.ComponentLogger

	runMu sync.Mutex // held for the duration of a pass or single chunk

	stateMu sync.RWMutex
	state   State
}

func NewRunner(cfg RunnerConfig, scheduler *Scheduler, checkpoint *Checkpoint,
	collector *metrics.Collector, log *logging.ComponentLogger) *Runner {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1
	}
	if cfg.FollowInterval <= 0 {
		cfg.FollowInterval = 15 * time.Second
	}
	r := &Runner{
		cfg:        cfg,
		scheduler:  scheduler,
		checkpoint: checkpoint,
		collector:  collector,
		log:        log,
	}
	r.state.Status = StatusCompleted
	r.state.NextStartBlock = r.cursor()
	return r
}

// Snapshot returns the current ingestion state.
func (r *Runner) Snapshot() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// cursor picks where the next chunk starts: the persisted checkpoint
// when one exists, the configured start block otherwise. Deleting the
// checkpoint file re-ingests from the configured start.
func (r *Runner) cursor() uint64 {
	if cp := r.checkpoint.Cursor(); cp > 0 {
		return cp
	}
	return r.cfg.StartBlock
}

// Run executes one pass, then, in follow mode, keeps polling for new
// blocks until the context is cancelled. Pass failures in follow mode
// are logged and retried on the next interval; the resume point is
// untouched by failures so nothing is skipped.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.RunPass(ctx); err != nil {
		if !r.cfg.Follow || ctx.Err() != nil {
			return err
		}
		r.log.Error().Err(err).Msg("Ingestion pass failed, will retry on next interval")
	}
	if !r.cfg.Follow {
		return nil
	}

	r.log.Info().
		Dur("interval", r.cfg.FollowInterval).
		Msg("Following ledger tip")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.FollowInterval):
		}
		if err := r.RunPass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error().Err(err).Msg("Ingestion pass failed, will retry on next interval")
		}
	}
}

// RunPass ingests everything between the cursor and the pass target.
// The target is resolved exactly once per pass; blocks appended to the
// ledger mid-pass wait for the next pass.
func (r *Runner) RunPass(ctx context.Context) error {
	if !r.runMu.TryLock() {
		return ErrBusy
	}
	defer r.runMu.Unlock()

	passID := r.beginPass()
	from := r.cursor()
	target, err := r.scheduler.ResolveTarget(ctx, r.cfg.EndBlock)
	if err != nil {
		r.setError(from, err)
		return fmt.Errorf("resolve pass target: %w", err)
	}
	r.collector.UpdateTargetBlock(target)

	if from > target {
		r.setIdle(from, target)
		r.log.Debug().
			Uint64("cursor", from).
			Uint64("target", target).
			Msg("Nothing to ingest")
		return nil
	}

	ranges := Partition(from, target, r.cfg.ChunkSize)
	r.log.Info().
		Str("pass_id", passID).
		Uint64("from_block", from).
		Uint64("target_block", target).
		Int("chunks", len(ranges)).
		Msg("Starting ingestion pass")

	for i, rng := range ranges {
		// Interruption is honored between chunks, never inside one, so
		// the checkpoint always describes fully processed chunks.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rep := r.scheduler.RunChunk(ctx, rng, target)
		r.applyReport(rep, target)
		if rep.Status == StatusError {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chunk [%d, %d]: %s", rep.FromBlock, rep.ToBlock, rep.Error)
		}
		r.logChunk(rep)

		r.checkpoint.Update(rep.NextStartBlock, target, rep.NewEventsStored+rep.UpdatedEvents)
		if err := r.checkpoint.Save(); err != nil {
			r.log.Warn().Err(err).Msg("Failed to save checkpoint")
		}
		r.collector.UpdateCurrentBlock(rep.NextStartBlock)

		if i < len(ranges)-1 && r.cfg.PacingDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PacingDelay):
			}
		}
	}
	return nil
}

// TriggerChunk processes exactly one chunk from the current cursor and
// returns its report. Used by the operational API; returns ErrBusy
// while a pass is running.
func (r *Runner) TriggerChunk(ctx context.Context) (ChunkReport, error) {
	if !r.runMu.TryLock() {
		return ChunkReport{}, ErrBusy
	}
	defer r.runMu.Unlock()

	r.beginPass()
	from := r.cursor()
	target, err := r.scheduler.ResolveTarget(ctx, r.cfg.EndBlock)
	if err != nil {
		r.setError(from, err)
		return ChunkReport{}, fmt.Errorf("resolve pass target: %w", err)
	}
	r.collector.UpdateTargetBlock(target)

	if from > target {
		r.setIdle(from, target)
		return ChunkReport{
			Status:         StatusCompleted,
			FromBlock:      from,
			ToBlock:        target,
			NextStartBlock: from,
		}, nil
	}

	rng := Partition(from, target, r.cfg.ChunkSize)[0]
	rep := r.scheduler.RunChunk(ctx, rng, target)
	r.applyReport(rep, target)
	if rep.Status != StatusError {
		r.logChunk(rep)
		r.checkpoint.Update(rep.NextStartBlock, target, rep.NewEventsStored+rep.UpdatedEvents)
		if err := r.checkpoint.Save(); err != nil {
			r.log.Warn().Err(err).Msg("Failed to save checkpoint")
		}
		r.collector.UpdateCurrentBlock(rep.NextStartBlock)
	}
	return rep, nil
}

func (r *Runner) logChunk(rep ChunkReport) {
	r.log.LogChunk(logging.ChunkMetrics{
		FromBlock:       rep.FromBlock,
		ToBlock:         rep.ToBlock,
		LogsFetched:     rep.LogsFetched,
		EventsStoredNew: rep.NewEventsStored,
		EventsUpdated:   rep.UpdatedEvents,
		EntriesWritten:  rep.EntriesWritten,
		Warnings:        rep.Warnings,
		Duration:        time.Duration(rep.DurationMS) * time.Millisecond,
	})
}

// beginPass stamps a fresh pass identity so log lines and status
// snapshots from different passes can be told apart.
func (r *Runner) beginPass() string {
	id := uuid.New().String()
	r.stateMu.Lock()
	r.state.PassID = id
	r.stateMu.Unlock()
	return id
}

func (r *Runner) applyReport(rep ChunkReport, target uint64) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state.Status = rep.Status
	r.state.NextStartBlock = rep.NextStartBlock
	r.state.TargetBlock = target
	r.state.LastError = rep.Error
	if rep.Status != StatusError {
		r.state.ChunksProcessed++
		r.state.EventsStored += rep.NewEventsStored + rep.UpdatedEvents
		r.state.WarningCount += rep.Warnings
	}
}

func (r *Runner) setError(cursor uint64, err error) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state.Status = StatusError
	r.state.NextStartBlock = cursor
	r.state.LastError = err.Error()
}

func (r *Runner) setIdle(cursor, target uint64) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state.Status = StatusCompleted
	r.state.NextStartBlock = cursor
	r.state.TargetBlock = target
	r.state.LastError = ""
}
