// Package bus is the in-process event/command backbone connecting the
// HTTP/WebSocket admin surface to the tempo session and MIDI scheduler
// (spec.md §5). Grounded on the listener-registry and latest-wins-drop
// pattern of the teacher's internal/mq manager, adapted from a P2P
// message queue to a single-process pub/sub with per-connection
// coalescing.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Command is one of Play, Interrupt, or ReloadOutputs — an action a client
// (HTTP handler) wants the scheduler/session to perform. Commands are never
// coalesced: every issued command is delivered, in order, exactly once.
type Command interface{ isCommand() }

type PlayCommand struct {
	BlockID   uuid.UUID
	GroupPlay bool // true if issued via a group's quantized start, not a direct play
}

type InterruptCommand struct{}

type ReloadOutputsCommand struct{}

func (PlayCommand) isCommand()          {}
func (InterruptCommand) isCommand()     {}
func (ReloadOutputsCommand) isCommand() {}

// Event is one of Snapshot or PlayingStateChanged — state pushed out to
// admin connections. Unlike commands, events are latest-wins: a slow
// consumer only ever sees the most recent state, never an unbounded queue
// of history (spec.md §5).
type Event interface{ isEvent() }

type SnapshotEvent struct {
	PeerCount int
	IsPlaying bool
	BPM       float64
	Beat      float64
}

type PlayingStateChangedEvent struct {
	BlockID uuid.UUID
	Playing bool
}

func (SnapshotEvent) isEvent()            {}
func (PlayingStateChangedEvent) isEvent() {}

// coalesceInterval is the per-connection flush cadence (spec.md §5: "50ms
// coalescing").
const coalesceInterval = 50 * time.Millisecond

// commandQueueCap is generous headroom for a low-rate, HTTP-driven action
// stream; a full queue here would mean the scheduler has stopped draining
// commands entirely, which Send reports as an error rather than silently
// dropping a user-issued action.
const commandQueueCap = 64

// Bus is the single-process command/event backbone. One Bus serves the
// whole process.
type Bus struct {
	cmds chan Command

	mu   sync.Mutex
	subs map[chan Event]*pendingEvent
}

type pendingEvent struct {
	ev    Event
	dirty bool
}

func New() *Bus {
	return &Bus{
		cmds: make(chan Command, commandQueueCap),
		subs: make(map[chan Event]*pendingEvent),
	}
}

// Send enqueues a command for the single consumer (the command dispatcher
// in internal/app). Returns false if the queue is full — the caller
// should surface this as a server error rather than silently drop it.
func (b *Bus) Send(cmd Command) bool {
	select {
	case b.cmds <- cmd:
		return true
	default:
		return false
	}
}

// Commands is the single consumer's receive side.
func (b *Bus) Commands() <-chan Command { return b.cmds }

// Publish fans an event out to every subscriber's pending slot. It never
// blocks: each subscriber only ever holds its single latest pending event
// until the next coalescing flush (spec.md §5 latest-wins backpressure).
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.subs {
		p.ev = ev
		p.dirty = true
	}
}

// Subscribe registers a new listener channel and returns a cancel func.
func (b *Bus) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 1)
	b.mu.Lock()
	b.subs[ch] = &pendingEvent{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// Run flushes each dirty subscriber slot to its channel every
// coalesceInterval, until ctx is cancelled. A subscriber that hasn't
// drained its previous flush is skipped rather than blocked on — its next
// flush simply carries whatever is newest (spec.md §5).
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(coalesceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *Bus) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, p := range b.subs {
		if !p.dirty {
			continue
		}
		select {
		case ch <- p.ev:
			p.dirty = false
		default:
			// listener hasn't drained the last flush yet; keep dirty so
			// the newest event is retried next tick instead of queuing.
		}
	}
}
