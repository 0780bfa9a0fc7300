package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Separator joins a parent's full name and a child's label.
const Separator = "/"

// ResolveReport summarizes one resolver pass.
type ResolveReport struct {
	Resolved int
	// Deferred counts entries left unresolved: placeholders awaiting
	// their Mint, entries under a placeholder or missing parent, and
	// anything on a parent cycle.
	Deferred int
}

// Resolver derives full names for entries that lack one. A full name
// is the parent's full name joined with the entry's label; the root's
// full name is the empty string, so its direct children carry bare
// labels. Resolution is memoized per pass and persisted, so resolving
// an already-named entry is a no-op.
type Resolver struct {
	entries *EntryStore
	log     zerolog.Logger
}

func NewResolver(entries *EntryStore, log zerolog.Logger) *Resolver {
	return &Resolver{entries: entries, log: log}
}

// ResolveAll names every resolvable unresolved entry and persists the
// result in one bulk upsert. Placeholder chains and cycles are skipped
// rather than failed; they resolve on a later pass once reconciled.
func (r *Resolver) ResolveAll(ctx context.Context) (ResolveReport, error) {
	unresolved, err := r.entries.Unresolved(ctx)
	if err != nil {
		return ResolveReport{}, err
	}

	pass := &resolvePass{
		store:  r.entries,
		log:    r.log,
		loaded: make(map[string]*Entry, len(unresolved)),
	}
	for _, e := range unresolved {
		pass.loaded[strings.ToLower(e.Hash)] = e
	}

	var rep ResolveReport
	for _, e := range unresolved {
		ok, err := pass.resolve(ctx, e, map[string]bool{})
		if err != nil {
			return rep, err
		}
		if ok {
			rep.Resolved++
		} else {
			rep.Deferred++
		}
	}

	if len(pass.out) > 0 {
		if _, err := r.entries.PutBatch(ctx, pass.out); err != nil {
			return rep, fmt.Errorf("persist resolved names: %w", err)
		}
	}
	return rep, nil
}

type resolvePass struct {
	store  *EntryStore
	log    zerolog.Logger
	loaded map[string]*Entry // nil value = known absent
	out    []*Entry          // entries named this pass, pending persist
}

// resolve computes e's full name, recursively naming the parent chain
// first. path holds the hashes currently being resolved so a corrupt
// parent cycle terminates instead of recursing forever.
func (p *resolvePass) resolve(ctx context.Context, e *Entry, path map[string]bool) (bool, error) {
	if e.FullName != nil {
		return true, nil
	}
	if e.Placeholder {
		return false, nil
	}
	if e.IsRoot() {
		// Root is normally created with its name; repair if not.
		name := ""
		e.FullName = &name
		p.out = append(p.out, e)
		return true, nil
	}
	if path[e.Hash] {
		p.log.Warn().Str("entry", e.Hash).Msg("parent cycle detected, leaving name unresolved")
		return false, nil
	}
	path[e.Hash] = true
	defer delete(path, e.Hash)

	parentName, ok, err := p.parentFullName(ctx, e, path)
	if err != nil || !ok {
		return ok, err
	}

	name := e.Label
	if parentName != "" {
		name = parentName + Separator + e.Label
	}
	e.FullName = &name
	p.out = append(p.out, e)
	return true, nil
}

func (p *resolvePass) parentFullName(ctx context.Context, e *Entry, path map[string]bool) (string, bool, error) {
	if e.ParentHash == RootHash {
		return "", true, nil
	}
	parent, err := p.get(ctx, e.ParentHash)
	if err != nil {
		return "", false, err
	}
	if parent == nil {
		p.log.Warn().
			Str("entry", e.Hash).
			Str("parent", e.ParentHash).
			Msg("parent entry missing, leaving name unresolved")
		return "", false, nil
	}
	ok, err := p.resolve(ctx, parent, path)
	if err != nil || !ok {
		return "", ok, err
	}
	return *parent.FullName, true, nil
}

func (p *resolvePass) get(ctx context.Context, hash string) (*Entry, error) {
	key := strings.ToLower(hash)
	if e, ok := p.loaded[key]; ok {
		return e, nil
	}
	e, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	p.loaded[key] = e
	return e, nil
}
