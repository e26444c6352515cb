package midi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harmonia/harmonia/internal/registry"
	"github.com/harmonia/harmonia/internal/tempo"
)

// fakeClock lets a test single-step a scheduler run deterministically: each
// SleepUntil call blocks until the test sends on step (or ctx is cancelled),
// so interruption can be injected at an exact point in the event sequence
// without relying on real timing.
type fakeClock struct {
	mu   sync.Mutex
	now  uint64
	step chan struct{}
}

func newFakeClock() *fakeClock { return &fakeClock{step: make(chan struct{})} }

func (c *fakeClock) NowMicros() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(ctx context.Context, t uint64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.step:
	}
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) advance() { c.step <- struct{}{} }

// fakeTempo is a fixed t0/bpm mapping, independent of the tempo package's
// multicast machinery.
type fakeTempo struct {
	t0  int64
	bpm float64
}

func (f *fakeTempo) HostTimeAt(beat tempo.BeatTime) uint64 {
	us := f.t0 + int64(float64(beat)*60e6/f.bpm)
	if us < 0 {
		return 0
	}
	return uint64(us)
}

func (f *fakeTempo) CurrentBPM() float64 { return f.bpm }

type recordingOutput struct {
	ch chan []byte
}

func newRecordingOutput() *recordingOutput { return &recordingOutput{ch: make(chan []byte, 16)} }

func (o *recordingOutput) Send(msg []byte) error {
	o.ch <- append([]byte(nil), msg...)
	return nil
}

func testBlock() registry.Block {
	return registry.Block{
		ID:              uuid.New(),
		TicksPerQuarter: 480,
		Events: []registry.Event{
			{DeltaTicks: 0, Message: []byte{0x90, 60, 100}},
			{DeltaTicks: 480, Message: []byte{0x80, 60, 0}},
		},
	}
}

// TestSchedulerPlaysNoteOnThenNoteOff is the spec.md §8 seed scenario: a
// 1-track SMF with NoteOn(0,60,100) at tick 0 and NoteOff(0,60,0) at tick
// 480, 480 ticks/quarter, 120 BPM — both events should dispatch in order.
func TestSchedulerPlaysNoteOnThenNoteOff(t *testing.T) {
	clk := newFakeClock()
	tp := &fakeTempo{t0: 1000, bpm: 120}
	out := newRecordingOutput()
	var changes []bool
	var mu sync.Mutex
	sched := New(clk, tp, out, func(_ uuid.UUID, playing bool) {
		mu.Lock()
		changes = append(changes, playing)
		mu.Unlock()
	})

	block := testBlock()
	sched.Play(block, 0)

	clk.advance() // unblocks the Waiting-phase sleep until start beat
	msg1 := <-out.ch
	if msg1[0] != 0x90 {
		t.Fatalf("expected note-on first, got %v", msg1)
	}

	clk.advance() // unblocks the note-off's sleep
	msg2 := <-out.ch
	if msg2[0] != 0x80 {
		t.Fatalf("expected note-off second, got %v", msg2)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("playing-changed callback never fired twice")
		case <-time.After(time.Millisecond):
		}
	}
	if !changes[0] || changes[1] {
		t.Fatalf("expected playing=true then playing=false, got %v", changes)
	}
}

// TestSchedulerInterruptCleansUpStuckNote verifies the "no stuck notes"
// property (spec.md §8, seed scenario 6): interrupting mid-note must emit a
// matching note-off for every entry still held in the ledger, followed by
// all-notes-off + sustain-off for the channel still sounding.
func TestSchedulerInterruptCleansUpStuckNote(t *testing.T) {
	clk := newFakeClock()
	tp := &fakeTempo{t0: 0, bpm: 120}
	out := newRecordingOutput()
	sched := New(clk, tp, out, nil)

	block := testBlock()
	sched.Play(block, 0)

	clk.advance() // Waiting -> Running
	msg1 := <-out.ch
	if msg1[0] != 0x90 {
		t.Fatalf("expected note-on, got %v", msg1)
	}

	sched.Interrupt() // cancels before the note-off's sleep ever unblocks

	noteOff := <-out.ch
	if noteOff[0] != 0x80 || noteOff[1] != 60 {
		t.Fatalf("expected matching note-off for the held note before the cleanup pair, got %v", noteOff)
	}

	cleanup1 := <-out.ch
	cleanup2 := <-out.ch
	if cleanup1[1] != ccAllNotesOff || cleanup2[1] != ccSustain {
		t.Fatalf("expected all-notes-off then sustain-off cleanup, got %v %v", cleanup1, cleanup2)
	}

	deadline := time.After(time.Second)
	for sched.State() != StateIdle {
		select {
		case <-deadline:
			t.Fatalf("scheduler never returned to Idle after interrupt")
		case <-time.After(time.Millisecond):
		}
	}
}

// TestSchedulerNewPlayInterruptsPrevious verifies Interrupting transitions
// when a second Play preempts a still-running block.
func TestSchedulerNewPlayInterruptsPrevious(t *testing.T) {
	clk := newFakeClock()
	tp := &fakeTempo{t0: 0, bpm: 120}
	out := newRecordingOutput()
	sched := New(clk, tp, out, nil)

	first := testBlock()
	sched.Play(first, 0)
	clk.advance()
	<-out.ch // first's note-on

	second := testBlock()
	second.ID = uuid.New()
	sched.Play(second, 0) // preempts first: cleanup for first's stuck note, then Waiting for second

	noteOff := <-out.ch
	if noteOff[0] != 0x80 || noteOff[1] != 60 {
		t.Fatalf("expected first block's held note-off before its cleanup pair, got %v", noteOff)
	}
	cleanup1 := <-out.ch
	cleanup2 := <-out.ch
	if cleanup1[1] != ccAllNotesOff || cleanup2[1] != ccSustain {
		t.Fatalf("expected first block's cleanup before second starts, got %v %v", cleanup1, cleanup2)
	}

	clk.advance() // second's Waiting -> Running
	msg := <-out.ch
	if msg[0] != 0x90 {
		t.Fatalf("expected second block's note-on, got %v", msg)
	}
}
