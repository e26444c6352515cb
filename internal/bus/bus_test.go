package bus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCommandSendAndReceive(t *testing.T) {
	b := New()
	if !b.Send(InterruptCommand{}) {
		t.Fatalf("expected Send to succeed on a fresh bus")
	}
	select {
	case cmd := <-b.Commands():
		if _, ok := cmd.(InterruptCommand); !ok {
			t.Fatalf("expected InterruptCommand, got %T", cmd)
		}
	default:
		t.Fatalf("expected command to be immediately receivable")
	}
}

func TestSendReportsFullQueue(t *testing.T) {
	b := New()
	for i := 0; i < commandQueueCap; i++ {
		if !b.Send(InterruptCommand{}) {
			t.Fatalf("unexpected full queue at %d", i)
		}
	}
	if b.Send(InterruptCommand{}) {
		t.Fatalf("expected Send to report false once the queue is full")
	}
}

func TestSubscribeCoalescesRapidPublishes(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go b.Run(ctx)

	for i := 0; i < 10; i++ {
		b.Publish(SnapshotEvent{BPM: float64(100 + i)})
	}

	select {
	case ev := <-ch:
		snap, ok := ev.(SnapshotEvent)
		if !ok {
			t.Fatalf("expected SnapshotEvent, got %T", ev)
		}
		if snap.BPM != 109 {
			t.Fatalf("expected only the latest publish (109), got %v", snap.BPM)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a coalesced flush within one tick")
	}

	// No further flush should arrive since nothing new was published.
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra flush: %+v", ev)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestPlayingStateChangedEventCarriesBlockID(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go b.Run(ctx)

	id := uuid.New()
	b.Publish(PlayingStateChangedEvent{BlockID: id, Playing: true})

	select {
	case ev := <-ch:
		pc, ok := ev.(PlayingStateChangedEvent)
		if !ok || pc.BlockID != id || !pc.Playing {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected flush within one tick")
	}
}
