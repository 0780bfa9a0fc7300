package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/withObsrvr/namegraph-indexer/events"
	"github.com/withObsrvr/namegraph-indexer/store"
)

// Report summarizes one projection batch.
type Report struct {
	EventsApplied  int
	EntriesWritten int
	Placeholders   int
	// Warnings counts events referencing an entry that does not exist.
	// Those events are dropped: a later Mint never retroactively
	// replays facts or transfers recorded before it.
	Warnings int
}

// Projector folds normalized events into the namespace graph. Events
// must arrive in ledger order (ascending block, then log index) so a
// Mint in the same batch is visible to the facts that follow it. Apply
// never fails on inconsistent data; it only fails when the store does.
type Projector struct {
	entries *EntryStore
	log     zerolog.Logger
}

func NewProjector(entries *EntryStore, log zerolog.Logger) *Projector {
	return &Projector{entries: entries, log: log}
}

// Apply folds the batch into a working set and flushes it in one bulk
// upsert. Re-applying the same batch converges to identical state:
// creation fields are set-once, children is a set, and map writes
// overwrite in place.
func (p *Projector) Apply(ctx context.Context, batch []events.Event) (Report, error) {
	ws := newWorkingSet(p.entries)
	var rep Report

	for _, ev := range batch {
		var err error
		switch e := ev.(type) {
		case *events.Mint:
			err = p.applyMint(ctx, ws, e, &rep)
		case *events.Fact:
			err = p.applyKeyed(ctx, ws, e, e.ParentHash, &rep, func(entry *Entry) {
				entry.SetFact(e.Label, e.Data)
			})
		case *events.Note:
			err = p.applyKeyed(ctx, ws, e, e.ParentHash, &rep, func(entry *Entry) {
				entry.SetNote(e.Label, e.Data)
			})
		case *events.Gene:
			err = p.applyKeyed(ctx, ws, e, e.EntryHash, &rep, func(entry *Entry) {
				entry.Gene = e.Address
			})
		case *events.Transfer:
			err = p.applyKeyed(ctx, ws, e, e.EntryID, &rep, func(entry *Entry) {
				entry.Owner = e.To
			})
		case *events.Zero, *events.Upgraded:
			// Administrative signals live in the event store only.
		default:
			p.log.Warn().Str("kind", string(ev.Kind())).Msg("no fold rule for event kind")
		}
		if err != nil {
			return rep, fmt.Errorf("apply %s event %s: %w", ev.Kind(), ev.ID(), err)
		}
		rep.EventsApplied++
	}

	res, err := ws.flush(ctx)
	if err != nil {
		return rep, fmt.Errorf("flush entries: %w", err)
	}
	rep.EntriesWritten = res.Inserted + res.Updated
	return rep, nil
}

func (p *Projector) applyMint(ctx context.Context, ws *workingSet, ev *events.Mint, rep *Report) error {
	parentHash := strings.ToLower(ev.ParentHash)
	childHash := strings.ToLower(ev.ChildHash)

	parent, err := ws.get(ctx, parentHash)
	if err != nil {
		return err
	}
	if parent == nil {
		if parentHash == RootHash {
			parent = NewRoot()
		} else {
			parent = NewPlaceholder(parentHash, ev.BlockNumber)
			rep.Placeholders++
			p.log.Debug().
				Str("parent", parentHash).
				Str("child", childHash).
				Msg("parent minted out of order, creating placeholder")
		}
	}

	child, err := ws.get(ctx, childHash)
	if err != nil {
		return err
	}
	switch {
	case child == nil:
		child = NewEntry(childHash, ev.Label, parentHash, ev.BlockNumber)
	case child.Placeholder:
		// The real Mint arrived after the entry was referenced as a
		// parent. Correct label, parent and creation block; children
		// attached in the interim stay attached.
		child.Label = ev.Label
		child.ParentHash = parentHash
		child.CreationBlock = ev.BlockNumber
		child.Placeholder = false
		child.FullName = nil
	default:
		// Replay of an already-minted entry. Creation fields are
		// set-once; only the update watermark moves.
	}
	child.Touch(ev.BlockNumber)
	ws.put(child)

	parent.AddChild(childHash)
	parent.Touch(ev.BlockNumber)
	ws.put(parent)
	return nil
}

// applyKeyed handles the fold rules that target one existing entry.
// An absent target is a warning, never an error: the batch continues.
func (p *Projector) applyKeyed(ctx context.Context, ws *workingSet, ev events.Event, targetHash string, rep *Report, mutate func(*Entry)) error {
	hash := strings.ToLower(targetHash)
	entry, err := ws.get(ctx, hash)
	if err != nil {
		return err
	}
	if entry == nil {
		rep.Warnings++
		p.log.Warn().
			Str("kind", string(ev.Kind())).
			Str("event_id", ev.ID()).
			Str("entry", hash).
			Msg("event references unknown entry, dropping")
		return nil
	}
	mutate(entry)
	entry.Touch(ev.Meta().BlockNumber)
	ws.put(entry)
	return nil
}

// workingSet caches entries touched by one batch so consecutive events
// see each other's effects before anything is persisted. A nil cache
// value means the hash is known absent.
type workingSet struct {
	store   *EntryStore
	entries map[string]*Entry
	touched []string
	dirty   map[string]bool
}

func newWorkingSet(store *EntryStore) *workingSet {
	return &workingSet{
		store:   store,
		entries: make(map[string]*Entry),
		dirty:   make(map[string]bool),
	}
}

func (w *workingSet) get(ctx context.Context, hash string) (*Entry, error) {
	if e, ok := w.entries[hash]; ok {
		return e, nil
	}
	e, err := w.store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	w.entries[hash] = e
	return e, nil
}

func (w *workingSet) put(e *Entry) {
	hash := strings.ToLower(e.Hash)
	w.entries[hash] = e
	if !w.dirty[hash] {
		w.dirty[hash] = true
		w.touched = append(w.touched, hash)
	}
}

// flush persists dirty entries in first-touched order.
func (w *workingSet) flush(ctx context.Context) (res store.UpsertResult, err error) {
	if len(w.touched) == 0 {
		return res, nil
	}
	out := make([]*Entry, 0, len(w.touched))
	for _, hash := range w.touched {
		out = append(out, w.entries[hash])
	}
	return w.store.PutBatch(ctx, out)
}
