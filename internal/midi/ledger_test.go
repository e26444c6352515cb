package midi

import "testing"

func TestLedgerTracksNoteOnOff(t *testing.T) {
	l := newLedger()
	if !l.empty() {
		t.Fatalf("new ledger should be empty")
	}
	l.noteOn(0, 60)
	l.noteOn(1, 64)
	if l.empty() {
		t.Fatalf("ledger should not be empty after note-on")
	}
	chans := l.channelsWithActiveNotes()
	if len(chans) != 2 || chans[0] != 0 || chans[1] != 1 {
		t.Fatalf("unexpected channels: %v", chans)
	}
	l.noteOff(0, 60)
	l.noteOff(1, 64)
	if !l.empty() {
		t.Fatalf("ledger should be empty after both note-offs")
	}
}

func TestClassifyNoteOnZeroVelocityKeepsNoteOnKindAndZeroVelocity(t *testing.T) {
	kind, ch, key, vel, ok := classify([]byte{0x90, 60, 0})
	if !ok || kind != statusNoteOn || ch != 0 || key != 60 || vel != 0 {
		t.Fatalf("unexpected classify result: %d %d %d %d %v", kind, ch, key, vel, ok)
	}
}

func TestAllNotesOffMessagesShape(t *testing.T) {
	msgs := allNotesOffMessages(3)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 cleanup messages, got %d", len(msgs))
	}
	if msgs[0][0] != 0xB3 || msgs[0][1] != ccAllNotesOff {
		t.Fatalf("unexpected all-notes-off message: %v", msgs[0])
	}
	if msgs[1][0] != 0xB3 || msgs[1][1] != ccSustain {
		t.Fatalf("unexpected sustain-off message: %v", msgs[1])
	}
}
