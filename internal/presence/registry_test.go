package presence

import (
	"errors"
	"testing"
	"time"
)

func TestRegisterAndCount(t *testing.T) {
	r := NewRegistry()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if _, err := r.Register(id, "user-"+id, "10.0.0.1", at); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		if got := r.Count(); got != i+1 {
			t.Fatalf("expected count %d, got %d", i+1, got)
		}
	}

	if _, err := r.Register("b", "again", "10.0.0.2", at); !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
	if r.Count() != 3 {
		t.Fatalf("duplicate register changed count to %d", r.Count())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "alice", "1.2.3.4", time.Now())

	conn, ok := r.Unregister("a")
	if !ok || conn.DisplayName != "alice" {
		t.Fatalf("expected to remove alice, got %+v ok=%v", conn, ok)
	}
	if _, ok := r.Unregister("a"); ok {
		t.Fatal("second unregister should report false")
	}
	if _, ok := r.Unregister("never-seen"); ok {
		t.Fatal("unregister of unknown id should report false")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	for _, id := range []string{"z", "m", "a", "q"} {
		r.Register(id, id, "", now)
	}
	r.Unregister("m")
	r.Register("m", "m", "", now)

	want := []string{"z", "a", "q", "m"}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d connections, got %d", len(want), len(got))
	}
	for i, c := range got {
		if c.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], c.ID)
		}
	}
}

func TestTouchOnlyMovesLastSeen(t *testing.T) {
	r := NewRegistry()
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Register("a", "alice", "1.2.3.4", joined)

	later := joined.Add(time.Minute)
	if !r.Touch("a", later) {
		t.Fatal("touch on known id should succeed")
	}
	if r.Touch("missing", later) {
		t.Fatal("touch on unknown id should fail")
	}

	c, _ := r.Get("a")
	if !c.JoinedAt.Equal(joined) || !c.LastSeenAt.Equal(later) {
		t.Fatalf("unexpected timestamps: joined=%v lastSeen=%v", c.JoinedAt, c.LastSeenAt)
	}
}

func TestListReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "alice", "", time.Now())

	list := r.List()
	list[0].DisplayName = "mallory"

	c, _ := r.Get("a")
	if c.DisplayName != "alice" {
		t.Fatalf("registry mutated through snapshot: %s", c.DisplayName)
	}
}
