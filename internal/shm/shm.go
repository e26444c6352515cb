// Package shm publishes the current session beat into a small named
// memory region so external interpreter processes can memory-map it
// read-only and synchronize their own scheduling to Harmonia's tempo
// (spec.md §4.6). The region holds exactly one IEEE-754 float64.
package shm

import (
	"context"
	"time"

	"github.com/harmonia/harmonia/internal/logging"
)

var log = logging.Named("shm")

// Size is the fixed region size: one f64 beat value, nothing else.
const Size = 8

// DefaultPath is the POSIX shared-memory object name (spec.md §4.6); the
// Windows/other-OS fallback reinterprets it as a plain file name.
const DefaultPath = "/harmonia-block"

// Publisher writes the current beat into the memory region. Implementations
// are platform-specific (see shm_linux.go / shm_other.go) but share this
// interface so the rest of the program never branches on OS.
type Publisher interface {
	Publish(beat float64) error
	Close() error
}

// publishInterval sets an update cadence well above the spec's ≥100 Hz
// floor (8ms ≈ 125 Hz) with headroom for scheduler jitter.
const publishInterval = 8 * time.Millisecond

// Run ticks at publishInterval, publishing nowBeat() until ctx is
// cancelled. A failed single publish is logged and playback continues —
// a missed shared-memory tick is not fatal to the local session.
func Run(ctx context.Context, pub Publisher, nowBeat func() float64) error {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := pub.Publish(nowBeat()); err != nil {
				log.Warnf("shm: publish failed: %v", err)
			}
		}
	}
}
