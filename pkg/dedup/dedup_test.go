package dedup

import (
	"testing"
	"time"
)

func TestShouldProcess(t *testing.T) {
	d := New(time.Minute, 10)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if !d.ShouldProcess("a") {
		t.Fatalf("first delivery must pass")
	}
	if d.ShouldProcess("a") {
		t.Fatalf("duplicate within ttl must be dropped")
	}
	now = now.Add(2 * time.Minute)
	if !d.ShouldProcess("a") {
		t.Fatalf("after ttl the id is accepted again")
	}
	if !d.ShouldProcess("") {
		t.Fatalf("empty id is never deduplicated")
	}
}

func TestShouldProcessPayloadScopedByTopic(t *testing.T) {
	d := New(time.Minute, 10)
	if !d.ShouldProcessPayload("control/a", []byte("ON")) {
		t.Fatalf("first payload must pass")
	}
	if d.ShouldProcessPayload("control/a", []byte("ON")) {
		t.Fatalf("redelivery must be dropped")
	}
	if !d.ShouldProcessPayload("control/b", []byte("ON")) {
		t.Fatalf("same payload on another topic is distinct")
	}
}

func TestCapEvictsOldest(t *testing.T) {
	d := New(time.Hour, 2)
	d.ShouldProcess("a")
	d.ShouldProcess("b")
	d.ShouldProcess("c") // "a" esce
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
	if !d.ShouldProcess("a") {
		t.Fatalf("evicted id must be accepted again")
	}
	if d.ShouldProcess("c") {
		t.Fatalf("recent id must still be remembered")
	}
}
