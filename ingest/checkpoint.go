package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint persists the ingestion resume point between process runs.
type Checkpoint struct {
	mu       sync.RWMutex
	filePath string

	NextStartBlock  uint64 `json:"next_start_block"`
	LastTargetBlock uint64 `json:"last_target_block"`
	LastUpdateTime  string `json:"last_update_time"`
	TotalChunks     uint64 `json:"total_chunks"`
	TotalEvents     uint64 `json:"total_events"`
}

// NewCheckpoint creates a checkpoint manager, loading existing state
// from disk. A missing file means a fresh start, not an error.
func NewCheckpoint(filePath string) (*Checkpoint, error) {
	cp := &Checkpoint{
		filePath: filePath,
	}

	if err := cp.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
	}

	return cp, nil
}

// Load reads the checkpoint from disk.
func (cp *Checkpoint) Load() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	data, err := os.ReadFile(cp.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cp)
}

// Save writes the checkpoint to disk atomically.
func (cp *Checkpoint) Save() error {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	dir := filepath.Dir(cp.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tempPath := cp.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	if err := os.Rename(tempPath, cp.filePath); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	return nil
}

// Update records the outcome of one completed chunk.
func (cp *Checkpoint) Update(nextStartBlock, targetBlock uint64, eventsStored int) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.NextStartBlock = nextStartBlock
	cp.LastTargetBlock = targetBlock
	cp.LastUpdateTime = formatTimestamp()
	cp.TotalChunks++
	cp.TotalEvents += uint64(eventsStored)
}

// Cursor returns the persisted resume point, zero when none exists.
func (cp *Checkpoint) Cursor() uint64 {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.NextStartBlock
}

// formatTimestamp returns current time in ISO 8601 format
func formatTimestamp() string {
	return timeNow().UTC().Format("2006-01-02T15:04:05Z07:00")
}

// timeNow is a variable to allow mocking in tests
var timeNow = time.Now
