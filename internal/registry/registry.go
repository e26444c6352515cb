// Package registry is the in-memory, insertion-ordered table of playable
// blocks (spec.md §4.4). Grounded on the teacher's storage/groups.go and
// storage/peers.go — a shared lock for reads, exclusive for writes, held
// only for the duration of one mutation, never across a suspension point.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Kind distinguishes the two playable artifact types (spec.md §3).
type Kind int

const (
	KindMidi Kind = iota
	KindSharedMemory
)

// Event is one (delta_ticks, message) pair from a parsed MIDI file.
type Event struct {
	DeltaTicks uint32
	Message    []byte // raw MIDI message bytes, running status already expanded
}

// Block is the stable, addressable unit the scheduler plays (spec.md §3).
// The registry owns the payload; the scheduler only ever borrows a
// read-only snapshot of Events by id.
type Block struct {
	ID       uuid.UUID
	Kind     Kind
	FileName string
	SHA1     string // content-address of the raw MIDI bytes in the cache
	Format   int    // SMF format (0 or 1; format 2 is rejected at upload)
	TicksPerQuarter uint16
	TracksCount     int
	Events          []Event

	Group    string
	Keybind  rune // 0 means unset
	MidiPort uint16
	HasPort  bool
	Playing  bool
}

// Delta is a partial update applied by Update (spec.md §4.4 "update").
type Delta struct {
	Group    *string
	Keybind  *rune
	MidiPort *uint16
}

// Registry is an insertion-ordered block_id -> Block map.
type Registry struct {
	mu    sync.RWMutex
	order []uuid.UUID
	byID  map[uuid.UUID]*Block
}

func New() *Registry {
	return &Registry{byID: make(map[uuid.UUID]*Block)}
}

// Insert adds a block under its own ID, assigning a fresh UUID only when
// b.ID is unset (spec.md §3: "Block identity is stable across restarts" —
// the id itself, once assigned, is what's persisted and restored).
func (r *Registry) Insert(b Block) uuid.UUID {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := b
	r.byID[b.ID] = &cp
	r.order = append(r.order, b.ID)
	return b.ID
}

// ErrUnknownBlock is returned by Get/Update/Delete for a vanished id
// (spec.md §7 UnknownBlock).
type ErrUnknownBlock struct{ ID uuid.UUID }

func (e *ErrUnknownBlock) Error() string { return "unknown block: " + e.ID.String() }

// Get returns a copy of the block (never a pointer into the table, so
// callers can't mutate registry state without going through Update).
func (r *Registry) Get(id uuid.UUID) (Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return Block{}, &ErrUnknownBlock{ID: id}
	}
	return *b, nil
}

// Update applies a partial Delta under the exclusive lock.
func (r *Registry) Update(id uuid.UUID, d Delta) (Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return Block{}, &ErrUnknownBlock{ID: id}
	}
	if d.Group != nil {
		b.Group = *d.Group
	}
	if d.Keybind != nil {
		b.Keybind = *d.Keybind
	}
	if d.MidiPort != nil {
		b.MidiPort = *d.MidiPort
		b.HasPort = true
	}
	return *b, nil
}

// SetPlaying is the scheduler's atomic flip of the playing flag — the only
// mutation the scheduler itself is permitted to make (spec.md §3, §4.4).
func (r *Registry) SetPlaying(id uuid.UUID, playing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return &ErrUnknownBlock{ID: id}
	}
	b.Playing = playing
	return nil
}

// Delete removes a block.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return &ErrUnknownBlock{ID: id}
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Iter returns a snapshot slice of all blocks in insertion order.
func (r *Registry) Iter() []Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Block, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// ByGroup returns blocks sharing a non-empty group name (spec.md §3:
// group="" means "no group", never matched here).
func (r *Registry) ByGroup(group string) []Block {
	if group == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Block
	for _, id := range r.order {
		b := r.byID[id]
		if b.Group == group {
			out = append(out, *b)
		}
	}
	return out
}
