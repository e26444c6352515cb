package registry

import "testing"

func TestInsertGetUpdateDelete(t *testing.T) {
	r := New()
	id := r.Insert(Block{FileName: "a.mid", Kind: KindMidi})

	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FileName != "a.mid" {
		t.Fatalf("unexpected block: %+v", got)
	}

	group := "ensemble"
	if _, err := r.Update(id, Delta{Group: &group}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = r.Get(id)
	if got.Group != "ensemble" {
		t.Fatalf("update did not apply: %+v", got)
	}

	if err := r.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(id); err == nil {
		t.Fatalf("expected ErrUnknownBlock after delete")
	}
}

func TestInsertionOrderPreserved(t *testing.T) {
	r := New()
	id1 := r.Insert(Block{FileName: "1"})
	id2 := r.Insert(Block{FileName: "2"})
	id3 := r.Insert(Block{FileName: "3"})

	ordered := r.Iter()
	if len(ordered) != 3 || ordered[0].ID != id1 || ordered[1].ID != id2 || ordered[2].ID != id3 {
		t.Fatalf("insertion order not preserved: %+v", ordered)
	}
}

func TestByGroupExcludesEmptyGroup(t *testing.T) {
	r := New()
	r.Insert(Block{FileName: "solo"})
	r.Insert(Block{FileName: "g1", Group: "band"})
	r.Insert(Block{FileName: "g2", Group: "band"})

	if got := r.ByGroup(""); got != nil {
		t.Fatalf("expected nil for empty group, got %v", got)
	}
	if got := r.ByGroup("band"); len(got) != 2 {
		t.Fatalf("expected 2 blocks in group band, got %d", len(got))
	}
}

func TestSetPlayingOnKnownBlockSucceeds(t *testing.T) {
	r := New()
	if err := r.SetPlaying(r.Insert(Block{}), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
