package tempo

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// BeatTime is a rational position along the shared tempo timeline.
// Fractional beats are first-class: a note-off at beat 1.5 is meaningful.
type BeatTime float64

// StartStopState is the (is_playing, at_beat) pair peers gossip alongside
// tempo so a late-joining peer can learn whether the ensemble is playing.
type StartStopState struct {
	IsPlaying bool
	AtBeat    BeatTime
}

// PeerState is one remote peer's view of the session, as last announced.
type PeerState struct {
	PeerID        uuid.UUID
	SessionID     uuid.UUID
	T0HostMicros  int64 // origin, translated into *our* clock frame
	BPM           float64
	StartStop     StartStopState
	LastSeen      time.Time
	offsetSamples []float64 // exponentially smoothed (local_recv - remote_tx) offset; one value kept
}

// timeline is the local peer's agreed (t0, bpm), guarded by mu. Readers use
// snapshot(); writers (the session goroutine) hold mu only across the
// assignment itself, never across a channel send or socket I/O — so a
// consumer never observes a half-updated (t0, bpm) pair (§5).
type timeline struct {
	mu  sync.RWMutex
	t0  int64 // host micros at beat 0, in our local clock frame
	bpm float64
}

func (t *timeline) snapshot() (int64, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.t0, t.bpm
}

func (t *timeline) set(t0 int64, bpm float64) {
	t.mu.Lock()
	t.t0, t.bpm = t0, bpm
	t.mu.Unlock()
}

// Snapshot is an atomically-published view of session state, pushed to the
// event bus for UI rendering and consumed by the scheduler for beat math.
type Snapshot struct {
	PeerCount int
	IsPlaying bool
	BPM       float64
	Beat      BeatTime
}
