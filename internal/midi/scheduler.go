package midi

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/harmonia/harmonia/internal/logging"
	"github.com/harmonia/harmonia/internal/registry"
	"github.com/harmonia/harmonia/internal/tempo"
)

var log = logging.Named("midi")

// State is one node of the scheduler state machine (spec.md §4.5):
//
//	Idle --play--> Waiting --beat>=start_beat--> Running
//	Running --play(new)--> Interrupting --cleanup--> Waiting(new)
//	Running --interrupt/track end--> Cleaning --cleanup--> Idle
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateRunning
	StateInterrupting
	StateCleaning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateInterrupting:
		return "interrupting"
	case StateCleaning:
		return "cleaning"
	default:
		return "unknown"
	}
}

// Clock is the subset of clock.Clock the scheduler needs — kept as an
// interface so tests can drive it without real wall-clock sleeps.
type Clock interface {
	NowMicros() uint64
	SleepUntil(ctx context.Context, hostMicros uint64) error
}

// TempoSource is the subset of tempo.Session the scheduler needs.
type TempoSource interface {
	HostTimeAt(beat tempo.BeatTime) uint64
	CurrentBPM() float64
}

// Output is a MIDI sink — a physical port, a virtual port, or a test
// recorder. Exactly one raw channel-voice message per Send.
type Output interface {
	Send(msg []byte) error
}

// PlayingChangedFunc is invoked whenever a block's Playing flag flips, so
// the caller can mirror it into the registry and the event bus.
type PlayingChangedFunc func(blockID uuid.UUID, playing bool)

// Scheduler runs exactly one block at a time. A new Play call interrupts
// whatever is currently Waiting or Running before starting the new block —
// there is only ever one active run (spec.md §4.5).
type Scheduler struct {
	clock    Clock
	tempoSrc TempoSource
	output   Output
	onChange PlayingChangedFunc

	mu         sync.Mutex
	state      State
	currentRun *run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(clk Clock, tempoSrc TempoSource, output Output, onChange PlayingChangedFunc) *Scheduler {
	if onChange == nil {
		onChange = func(uuid.UUID, bool) {}
	}
	return &Scheduler{clock: clk, tempoSrc: tempoSrc, output: output, onChange: onChange, state: StateIdle}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Play starts (or interrupts into) playback of block at startBeat. It
// returns once the new run has been registered as current; the previous
// run's cleanup (if any) is guaranteed to have completed before Play
// returns, so two overlapping blocks never emit notes out of order.
func (s *Scheduler) Play(block registry.Block, startBeat tempo.BeatTime) {
	s.mu.Lock()
	prev := s.currentRun
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.currentRun = r
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done // Interrupting/Cleaning of the old run always finishes first
	}

	go s.runBlock(ctx, r, block, startBeat)
}

// Interrupt stops whatever is currently Waiting or Running, running its
// cleanup, and returns to Idle without starting anything new
// (spec.md §4.5, the loopback-only /interrupt endpoint).
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	prev := s.currentRun
	s.currentRun = nil
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
}

func (s *Scheduler) runBlock(ctx context.Context, r *run, block registry.Block, startBeat tempo.BeatTime) {
	defer close(r.done)

	s.setState(StateWaiting)
	hostStart := s.tempoSrc.HostTimeAt(startBeat)
	if err := s.clock.SleepUntil(ctx, hostStart); err != nil {
		s.setState(StateIdle)
		return
	}

	s.setState(StateRunning)
	s.onChange(block.ID, true)
	defer s.onChange(block.ID, false)

	sched := buildSchedule(block, startBeat)
	led := newLedger()
	fixedOff := make(map[int]uint64) // index -> fixed host time for paired note-offs

	for i, ev := range sched {
		select {
		case <-ctx.Done():
			s.setState(StateInterrupting)
			s.cleanup(led)
			s.setState(StateIdle)
			return
		default:
		}

		hostMicros, fixed := fixedOff[i]
		if !fixed {
			hostMicros = s.tempoSrc.HostTimeAt(ev.beat)
		}

		// An event whose time has already been reached (e.g. one at the
		// start beat just waited for) is dispatched without another sleep.
		if hostMicros > s.clock.NowMicros() {
			if err := s.clock.SleepUntil(ctx, hostMicros); err != nil {
				s.setState(StateInterrupting)
				s.cleanup(led)
				s.setState(StateIdle)
				return
			}
		}

		s.dispatch(ev, led)

		if ev.isNoteOn && ev.pairIdx >= 0 {
			durationTicks := sched[ev.pairIdx].tick - ev.tick
			durationMicros := ticksToMicros(durationTicks, block.TicksPerQuarter, s.tempoSrc.CurrentBPM())
			fixedOff[ev.pairIdx] = hostMicros + durationMicros
		}
	}

	s.setState(StateCleaning)
	s.cleanup(led)
	s.setState(StateIdle)
}

func (s *Scheduler) dispatch(ev schedEvent, led *ledger) {
	if err := s.output.Send(ev.msg); err != nil {
		log.Warnf("midi: send failed: %v", err)
	}
	switch {
	case ev.isNoteOn:
		led.noteOn(ev.channel, ev.key)
	case ev.isNoteOff:
		led.noteOff(ev.channel, ev.key)
	}
}

// cleanup emits a note-off for every entry still held in the ledger, then
// the guaranteed all-notes-off/sustain-off pair on every channel that had a
// sounding note, before the output port is released (spec.md §4.5 step 4,
// §8 "no stuck notes": every issued note-on has a matching note-off).
func (s *Scheduler) cleanup(led *ledger) {
	if led.empty() {
		return
	}
	for _, k := range led.activeKeys() {
		if err := s.output.Send(noteOffMessage(k.channel, k.key)); err != nil {
			log.Warnf("midi: cleanup note-off send failed: %v", err)
		}
	}
	for _, ch := range led.channelsWithActiveNotes() {
		for _, msg := range allNotesOffMessages(ch) {
			if err := s.output.Send(msg); err != nil {
				log.Warnf("midi: cleanup send failed: %v", err)
			}
		}
	}
	led.reset()
}

// ticksToMicros converts a tick duration to real microseconds at a given
// BPM and ticks-per-quarter, matching beat(tick) = tick/ppq and
// host_time = t0 + beat*60e6/bpm, here used as a pure duration (no t0).
func ticksToMicros(ticks uint32, ppq uint16, bpm float64) uint64 {
	if ppq == 0 || bpm <= 0 {
		return 0
	}
	beats := float64(ticks) / float64(ppq)
	return uint64(beats * 60e6 / bpm)
}
