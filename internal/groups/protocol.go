package groups

import (
	"context"
	"math"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/harmonia/harmonia/internal/logging"
)

var log = logging.Named("groups")

// epsilon is how close to a start_beat a peer must be before it stops
// honoring a freshly-arrived Intent for the same boundary (spec.md §4.3:
// "whose local clock is still before start_beat - epsilon").
const epsilon = 0.05 // beats

// NowBeatFunc and friends decouple the protocol from tempo.Session so this
// package stays independently testable.
type NowBeatFunc func() float64

// ScheduleFunc is invoked when this peer should begin playback of its own
// block in the given group at start_beat — wired to the MIDI scheduler.
type ScheduleFunc func(groupName string, startBeat float64)

// Manager runs the participatory-start protocol over a dedicated multicast
// channel. One Manager serves the whole process; blocks register their
// group interest via Register.
type Manager struct {
	selfPeer uuid.UUID
	nowBeat  NowBeatFunc
	quantum  float64
	sock     *socket
	disabled bool
	groupIP  string
	port     int

	mu       sync.Mutex
	handlers map[string]ScheduleFunc // group name -> schedule callback
	pending  map[string]pendingIntent
}

type pendingIntent struct {
	startBeat float64
	issuer    uuid.UUID
}

// Option configures a Manager.
type Option func(*Manager)

// WithDisableLink suppresses transmission/reception, matching tempo's
// --disable-link mode — a solo peer simply schedules its own group
// playback immediately with no peers to coordinate with.
func WithDisableLink() Option {
	return func(m *Manager) { m.disabled = true }
}

// WithQuantum overrides the default beat quantum (4, per spec.md §4.3).
func WithQuantum(q float64) Option {
	return func(m *Manager) { m.quantum = q }
}

// WithMulticastAddr overrides the default multicast group/port (config.go's
// groups.multicast_group/groups.port).
func WithMulticastAddr(groupIP string, port int) Option {
	return func(m *Manager) { m.groupIP, m.port = groupIP, port }
}

func New(selfPeer uuid.UUID, nowBeat NowBeatFunc, opts ...Option) *Manager {
	m := &Manager{
		selfPeer: selfPeer,
		nowBeat:  nowBeat,
		quantum:  4,
		groupIP:  DefaultGroupIP,
		port:     DefaultPort,
		handlers: make(map[string]ScheduleFunc),
		pending:  make(map[string]pendingIntent),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NextQuantum computes the next quantized beat boundary >= nowBeat at
// granularity q (spec.md §4.3/§GLOSSARY).
func NextQuantum(nowBeat, q float64) float64 {
	if q <= 0 {
		return nowBeat
	}
	n := math.Ceil(nowBeat/q - 1e-9)
	return n * q
}

// Register associates a local group name with a schedule callback — called
// when this peer should start playing because it or a peer issued an
// Intent for that group.
func (m *Manager) Register(groupName string, fn ScheduleFunc) {
	if groupName == "" {
		return // group="" means "no group" (spec.md §9 open question)
	}
	m.mu.Lock()
	m.handlers[groupName] = fn
	m.mu.Unlock()
}

func (m *Manager) Unregister(groupName string) {
	m.mu.Lock()
	delete(m.handlers, groupName)
	m.mu.Unlock()
}

// Run starts the receive loop; blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m.disabled {
		<-ctx.Done()
		return nil
	}
	sock, err := newSocket(m.groupIP, m.port, m.handleDatagram)
	if err != nil {
		return err
	}
	m.sock = sock
	defer sock.Close()
	sock.receiveLoop(ctx)
	return nil
}

// IssuePlay computes start_beat for a group-triggered Play (spec.md §4.3
// step 1), broadcasts an Intent, and schedules locally without waiting for
// acks (participatory, not consensus).
func (m *Manager) IssuePlay(groupName string) (startBeat float64) {
	startBeat = NextQuantum(m.nowBeat(), m.quantum)
	m.acceptIntent(groupName, startBeat, m.selfPeer)
	if !m.disabled && m.sock != nil {
		m.sock.broadcast(EncodeIntent(Intent{GroupName: groupName, StartBeat: startBeat, IssuerPeer: m.selfPeer}))
	}
	return startBeat
}

// SoloStartBeat is the non-group quantum: ceil to the next whole beat
// (spec.md §9 open question 3).
func SoloStartBeat(nowBeat float64) float64 {
	return math.Ceil(nowBeat)
}

func (m *Manager) handleDatagram(data []byte, from *net.UDPAddr) {
	frame, err := Decode(data)
	if err != nil {
		return
	}
	switch frame.Kind {
	case KindIntent:
		m.handleIntent(frame.Intent, from)
	case KindAck:
		// best-effort, informational only; the issuer never waits on it (§5)
		log.Debugf("groups: ack for %s from %s", frame.Ack.GroupName, frame.Ack.AckPeer)
	}
}

// handleIntent accepts an Intent and, unless too late to join, replies with
// a unicast Ack straight back to the issuer's observed address — spec.md
// §4.3/§6 specify the Ack as a point-to-point reply, never broadcast to the
// whole multicast group.
func (m *Manager) handleIntent(i Intent, from *net.UDPAddr) {
	if i.IssuerPeer == m.selfPeer {
		return // our own broadcast, looped back
	}
	now := m.nowBeat()
	if now >= i.StartBeat-epsilon {
		return // too late to join this boundary (spec.md §4.3)
	}
	m.acceptIntent(i.GroupName, i.StartBeat, i.IssuerPeer)

	if !m.disabled && m.sock != nil && from != nil {
		m.sock.unicast(from, EncodeAck(Ack{GroupName: i.GroupName, StartBeat: i.StartBeat, IssuerPeer: i.IssuerPeer, AckPeer: m.selfPeer}))
	}
}

// acceptIntent applies the collision rule (spec.md §4.3): distinct
// start_beats for the same group are both honored (we just reschedule to
// the newest one we've heard, since only one Waiting slot exists per
// group locally); equal-beat collisions dedupe by lower
// (start_beat, issuer_peer_id) — so a higher-id duplicate at the same
// beat is a no-op.
func (m *Manager) acceptIntent(groupName string, startBeat float64, issuer uuid.UUID) {
	m.mu.Lock()
	prev, had := m.pending[groupName]
	accept := !had || startBeat != prev.startBeat || lessUUID(issuer, prev.issuer)
	if accept {
		m.pending[groupName] = pendingIntent{startBeat: startBeat, issuer: issuer}
	}
	fn := m.handlers[groupName]
	m.mu.Unlock()

	if accept && fn != nil {
		fn(groupName, startBeat)
	}
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
