package model

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{"user": RoleUser, " Assistant ": RoleAssistant, "USER": RoleUser}
	for in, want := range cases {
		got, ok := ParseRole(in)
		if !ok || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseRole("system"); ok {
		t.Fatalf("system accepted as a role")
	}
}

func TestAppendNeverGoesBackwards(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Conversation{ID: "c1", CreatedAt: base, UpdatedAt: base}

	first := c.Append("t1", RoleUser, "hi", "", base.Add(time.Second))
	second := c.Append("t2", RoleAssistant, "hello", "", base)

	if !second.Timestamp.Equal(first.Timestamp) {
		t.Fatalf("second turn at %v precedes first at %v", second.Timestamp, first.Timestamp)
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("seq = %d, %d", first.Seq, second.Seq)
	}
	if !c.UpdatedAt.Equal(first.Timestamp) {
		t.Fatalf("updatedAt = %v", c.UpdatedAt)
	}
	if second.ConversationID != "c1" || c.MessageCount != 2 {
		t.Fatalf("unexpected conversation state %+v", c)
	}
}

func TestEvictOldestTracksDelta(t *testing.T) {
	now := time.Now().UTC()
	c := &Conversation{ID: "c1"}
	c.Append("saved", RoleUser, "a", "", now)
	c.MarkSaved()
	c.Append("fresh", RoleAssistant, "b", "", now)
	c.Append("newest", RoleUser, "c", "", now)

	evicted := c.EvictOldest(2)
	if len(evicted) != 2 || evicted[0].ID != "saved" || evicted[1].ID != "fresh" {
		t.Fatalf("evicted = %v", evicted)
	}

	added, removed := c.Pending()
	if len(added) != 1 || added[0].ID != "newest" {
		t.Fatalf("added = %v", added)
	}
	if len(removed) != 1 || removed[0] != "saved" {
		t.Fatalf("removed = %v", removed)
	}
	if len(c.Turns) != 1 || c.TotalTokens() != 1 {
		t.Fatalf("turns = %d, tokens = %d", len(c.Turns), c.TotalTokens())
	}
}
