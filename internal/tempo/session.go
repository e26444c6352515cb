// Package tempo implements the peer-to-peer tempo-session protocol: a
// multicast gossip of (t0, bpm, start/stop) state that converges all peers
// on the network onto an identical beat timeline, equivalent in behavior to
// Ableton Link's session protocol (spec.md §4.2).
package tempo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harmonia/harmonia/internal/clock"
	"github.com/harmonia/harmonia/internal/logging"
)

const (
	aliveInterval  = 100 * time.Millisecond
	evictAfter     = 3 * aliveInterval
	interfaceScan  = 5 * time.Second
	DefaultPort    = 20808
	DefaultGroupIP = "224.76.78.75"
)

var log = logging.Named("tempo")

// Session owns the local peer's tempo state and the set of known remote
// peers. All of t0/bpm/membership are exclusively owned here; every other
// component reads them through Subscribe's Snapshot pushes or
// BeatAt/HostTimeAt/CurrentBPM, which take a lock only for the duration of
// the read (§4.2, §5).
type Session struct {
	clock *clock.Clock

	peerID uuid.UUID

	mu            sync.RWMutex
	sessionID     uuid.UUID
	line          timeline
	startStop     StartStopState
	peers         map[uuid.UUID]*PeerState
	disableLink   bool

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}

	groupIP string
	port    int

	transport transport // nil in --disable-link mode
}

// Option configures a Session at construction.
type Option func(*Session)

// WithDisableLink suppresses all multicast transmission/reception and keeps
// a single-peer local session (spec.md §4.2 "--disable-link").
func WithDisableLink() Option {
	return func(s *Session) { s.disableLink = true }
}

// WithMulticastAddr overrides the default multicast group/port (config.go's
// tempo.multicast_group/tempo.port).
func WithMulticastAddr(groupIP string, port int) Option {
	return func(s *Session) { s.groupIP, s.port = groupIP, port }
}

// New creates a Session anchored at the local clock's current beat 0 and
// 120 BPM, the conventional Link default for a freshly-started peer.
func New(clk *clock.Clock, opts ...Option) *Session {
	id := uuid.New()
	s := &Session{
		clock:     clk,
		peerID:    id,
		sessionID: id, // session_id starts as peer_id (spec.md §3)
		peers:     make(map[uuid.UUID]*PeerState),
		subs:      make(map[chan Snapshot]struct{}),
		groupIP:   DefaultGroupIP,
		port:      DefaultPort,
	}
	s.line.set(int64(clk.NowMicros()), 120.0)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PeerID returns this node's 128-bit random identifier.
func (s *Session) PeerID() uuid.UUID { return s.peerID }

// Run starts the session's background tasks (receive, periodic send,
// eviction, interface re-enumeration) and blocks until ctx is cancelled.
// In --disable-link mode it only runs the snapshot-publishing ticker.
func (s *Session) Run(ctx context.Context) error {
	if s.disableLink {
		return s.runLocalOnly(ctx)
	}

	t, err := newMulticastTransport(s.groupIP, s.port, s.handleFrame)
	if err != nil {
		return err
	}
	s.transport = t
	defer t.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); t.receiveLoop(ctx) }()
	go func() { defer wg.Done(); s.sendLoop(ctx, t) }()
	go func() { defer wg.Done(); s.evictLoop(ctx) }()

	s.sayByeByeOnExit(ctx, t)
	s.publishLoop(ctx)
	wg.Wait()
	return nil
}

func (s *Session) runLocalOnly(ctx context.Context) error {
	s.publishLoop(ctx)
	return nil
}

func (s *Session) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, t transport) {
	ticker := time.NewTicker(aliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.broadcast(Encode(KindAlive, s.localPayload()))
		}
	}
}

func (s *Session) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(aliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictStale()
		}
	}
}

func (s *Session) sayByeByeOnExit(ctx context.Context, t transport) {
	go func() {
		<-ctx.Done()
		// best-effort; no retries, no durability (spec.md §4.2/§4.3)
		t.broadcast(Encode(KindByeBye, Payload{PeerID: s.peerID, SessionID: s.currentSessionID()}))
	}()
}

func (s *Session) currentSessionID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) localPayload() Payload {
	s.mu.RLock()
	ss := s.startStop
	sid := s.sessionID
	s.mu.RUnlock()
	t0, bpm := s.line.snapshot()
	return Payload{
		PeerID:       s.peerID,
		SessionID:    sid,
		T0HostMicros: t0,
		BPM:          bpm,
		IsPlaying:    ss.IsPlaying,
		AtBeat:       ss.AtBeat,
		TxHostMicros: s.clock.NowMicros(),
	}
}

// BeatAt converts a local host-time reading (microseconds) to a beat
// position: beat(t) = (t - t0) * bpm / 60e6 — strictly increasing in t as
// long as bpm > 0, which §3's invariant requires.
func (s *Session) BeatAt(hostMicros uint64) BeatTime {
	t0, bpm := s.line.snapshot()
	return BeatTime(float64(int64(hostMicros)-t0) * bpm / 60e6)
}

// HostTimeAt is the inverse of BeatAt: the host-time instant a given beat
// falls on, under the currently agreed (t0, bpm).
func (s *Session) HostTimeAt(beat BeatTime) uint64 {
	t0, bpm := s.line.snapshot()
	us := t0 + int64(float64(beat)*60e6/bpm)
	if us < 0 {
		return 0
	}
	return uint64(us)
}

// NowBeat is BeatAt(clock.NowMicros()) — the current session beat.
func (s *Session) NowBeat() BeatTime { return s.BeatAt(s.clock.NowMicros()) }

// CurrentBPM returns the tempo in effect right now. Used by the MIDI
// scheduler to fix a just-dispatched note's off-time in real microseconds
// at the instant the note-on fires (spec.md §4.5: in-flight notes keep
// their original off time even if tempo changes before it arrives).
func (s *Session) CurrentBPM() float64 {
	_, bpm := s.line.snapshot()
	return bpm
}

// PeerCount is the number of known peers, including ourselves.
func (s *Session) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers) + 1
}

// IsPlaying reports the session-wide start/stop state last agreed.
func (s *Session) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startStop.IsPlaying
}

// SetTempo changes the local node's BPM and re-announces it. Within a
// session, tempo changes are accepted from any peer (§4.2) — this node's
// change simply becomes the next Alive broadcast; peers adopt it only if
// they still trust our session_id as the minimum.
func (s *Session) SetTempo(bpm float64) {
	t0, _ := s.line.snapshot()
	s.line.set(t0, bpm)
	if !s.disableLink && s.transport != nil {
		s.transport.broadcast(Encode(KindAlive, s.localPayload()))
	}
}

// SetStartStop announces a new start/stop intent, honored locally
// immediately and broadcast to peers on the next Alive tick.
func (s *Session) SetStartStop(ss StartStopState) {
	s.mu.Lock()
	s.startStop = ss
	s.mu.Unlock()
}

// Subscribe returns a channel receiving Snapshot pushes. Consumers should
// drain promptly; this is latest-wins — a slow consumer misses
// intermediate snapshots, never blocks the publisher (§5 backpressure).
func (s *Session) Subscribe() (ch chan Snapshot, cancel func()) {
	ch = make(chan Snapshot, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
}

func (s *Session) publish() {
	_, bpm := s.line.snapshot()
	snap := Snapshot{
		PeerCount: s.PeerCount(),
		IsPlaying: s.IsPlaying(),
		BPM:       bpm,
		Beat:      s.NowBeat(),
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// drop — latest-wins, never queue unbounded (§5)
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
