package graph

import "sort"

const (
	// RootHash is the distinguished all-zero namespace root. It has no
	// parent and is never created by a Mint event; it is materialized
	// lazily the first time something is minted under it.
	RootHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

	// PlaceholderLabel marks an entry that was referenced as a parent
	// before its own Mint event arrived.
	PlaceholderLabel = "[unknown]"
)

// Entry is one node of the namespace graph, stored as a JSON document
// keyed by its hash. FullName is a pointer so an unresolved entry omits
// the field entirely, which is what the resolver queries for.
type Entry struct {
	Hash            string            `json:"hash"`
	Label           string            `json:"label"`
	ParentHash      string            `json:"parentHash,omitempty"`
	FullName        *string           `json:"fullName,omitempty"`
	Owner           string            `json:"owner,omitempty"`
	Gene            string            `json:"gene,omitempty"`
	Facts           map[string]string `json:"facts,omitempty"`
	Notes           map[string]string `json:"notes,omitempty"`
	Children        []string          `json:"children"`
	CreationBlock   uint64            `json:"creationBlock"`
	LastUpdateBlock uint64            `json:"lastUpdateBlock"`
	Placeholder     bool              `json:"placeholder,omitempty"`
}

// NewEntry builds a freshly minted entry.
func NewEntry(hash, label, parentHash string, block uint64) *Entry {
	return &Entry{
		Hash:            hash,
		Label:           label,
		ParentHash:      parentHash,
		Children:        []string{},
		CreationBlock:   block,
		LastUpdateBlock: block,
	}
}

// NewPlaceholder builds a provisional entry for a parent hash that has
// been referenced but not yet minted. It hangs off the root until its
// real Mint event reconciles it.
func NewPlaceholder(hash string, block uint64) *Entry {
	e := NewEntry(hash, PlaceholderLabel, RootHash, block)
	e.Placeholder = true
	return e
}

// NewRoot builds the namespace root. Its full name is the empty string
// and is known from the start, so the resolver never visits it.
func NewRoot() *Entry {
	name := ""
	return &Entry{
		Hash:     RootHash,
		FullName: &name,
		Children: []string{},
	}
}

// IsRoot reports whether the entry is the namespace root.
func (e *Entry) IsRoot() bool { return e.Hash == RootHash }

// AddChild inserts a child hash into the sorted children set. Returns
// false if the child was already present.
func (e *Entry) AddChild(hash string) bool {
	i := sort.SearchStrings(e.Children, hash)
	if i < len(e.Children) && e.Children[i] == hash {
		return false
	}
	e.Children = append(e.Children, "")
	copy(e.Children[i+1:], e.Children[i:])
	e.Children[i] = hash
	return true
}

// HasChild reports whether hash is in the children set.
func (e *Entry) HasChild(hash string) bool {
	i := sort.SearchStrings(e.Children, hash)
	return i < len(e.Children) && e.Children[i] == hash
}

// SetFact records an immutable fact value under its label.
func (e *Entry) SetFact(label, value string) {
	if e.Facts == nil {
		e.Facts = make(map[string]string)
	}
	e.Facts[label] = value
}

// SetNote records a mutable note value under its label.
func (e *Entry) SetNote(label, value string) {
	if e.Notes == nil {
		e.Notes = make(map[string]string)
	}
	e.Notes[label] = value
}

// Touch advances LastUpdateBlock, never rewinding it.
func (e *Entry) Touch(block uint64) {
	if block > e.LastUpdateBlock {
		e.LastUpdateBlock = block
	}
}
