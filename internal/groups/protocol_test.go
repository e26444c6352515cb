package groups

import (
	"testing"

	"github.com/google/uuid"
)

func TestNextQuantum(t *testing.T) {
	cases := []struct {
		now, q, want float64
	}{
		{3.4, 4, 4},
		{3.7, 4, 4},
		{4.0, 4, 4},
		{4.01, 4, 8},
		{0, 4, 0},
	}
	for _, c := range cases {
		got := NextQuantum(c.now, c.q)
		if got != c.want {
			t.Errorf("NextQuantum(%v,%v) = %v, want %v", c.now, c.q, got, c.want)
		}
	}
}

// TestGroupStartAgreement is seed scenario 3 (spec.md §8): two peers issuing
// Play for group "g" at beats 3.4 and 3.7 with quantum 4 both land on
// start_beat=4.
func TestGroupStartAgreement(t *testing.T) {
	beatA, beatB := 3.4, 3.7
	gotA := NextQuantum(beatA, 4)
	gotB := NextQuantum(beatB, 4)
	if gotA != 4 || gotB != 4 {
		t.Fatalf("expected both peers to agree on start_beat=4, got %v and %v", gotA, gotB)
	}
}

func TestAcceptIntentDedupesEqualBeatByLowerIssuer(t *testing.T) {
	var scheduled []float64
	m := New(uuid.New(), func() float64 { return 0 }, WithDisableLink())
	m.Register("g", func(group string, startBeat float64) {
		scheduled = append(scheduled, startBeat)
	})

	low := uuid.UUID{0x01}
	high := uuid.UUID{0xff}

	m.acceptIntent("g", 4, high)
	m.acceptIntent("g", 4, high) // duplicate, same issuer: no-op
	m.acceptIntent("g", 4, low)  // lower issuer at same beat: replaces

	if len(scheduled) != 2 {
		t.Fatalf("expected 2 schedule calls (initial + lower-issuer replace), got %d: %v", len(scheduled), scheduled)
	}
}

func TestAcceptIntentHonorsDistinctBeats(t *testing.T) {
	var scheduled []float64
	m := New(uuid.New(), func() float64 { return 0 }, WithDisableLink())
	m.Register("g", func(group string, startBeat float64) {
		scheduled = append(scheduled, startBeat)
	})

	m.acceptIntent("g", 4, uuid.New())
	m.acceptIntent("g", 8, uuid.New())

	if len(scheduled) != 2 {
		t.Fatalf("expected both distinct start_beats to be honored, got %v", scheduled)
	}
}

func TestSoloStartBeatCeilsToWholeBeat(t *testing.T) {
	if SoloStartBeat(3.1) != 4 {
		t.Fatalf("expected ceil(3.1)=4")
	}
	if SoloStartBeat(4.0) != 4 {
		t.Fatalf("expected ceil(4.0)=4")
	}
}
