package model

import (
	"sort"
	"strings"
	"time"

	"github.com/ragops-session/server/internal/session/tokens"
)

// DefaultOwner is used when a conversation is created without an owner.
const DefaultOwner = "default"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	default:
		return "", false
	}
}

// Lower returns the role as the answering engine expects it.
func (r Role) Lower() string {
	return strings.ToLower(string(r))
}

// NormalizeOwner maps a blank owner onto DefaultOwner.
func NormalizeOwner(ownerID string) string {
	if o := strings.TrimSpace(ownerID); o != "" {
		return o
	}
	return DefaultOwner
}

// Turn is one message of a conversation. ConversationID is a plain parent id;
// a turn never holds a reference to its conversation.
type Turn struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	Metadata       string
	Timestamp      time.Time
	// Seq breaks timestamp ties in insertion order.
	Seq int64
}

// Conversation is the aggregate root for a sequence of turns.
//
// Mutations made through Append and EvictOldest are tracked as pending so a
// store can persist exactly the delta of one exchange in a single transaction.
type Conversation struct {
	ID        string
	OwnerID   string
	Metadata  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Turns     []*Turn

	// MessageCount is populated by reads that do not load turns.
	MessageCount int

	added   []*Turn
	removed []string
}

// Append adds a new turn at the tail. The timestamp is clamped so turns never
// go backwards, and UpdatedAt only moves forward.
func (c *Conversation) Append(id string, role Role, content, metadata string, now time.Time) *Turn {
	var seq int64
	if n := len(c.Turns); n > 0 {
		last := c.Turns[n-1]
		if now.Before(last.Timestamp) {
			now = last.Timestamp
		}
		seq = last.Seq + 1
	}

	t := &Turn{
		ID:             id,
		ConversationID: c.ID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		Timestamp:      now,
		Seq:            seq,
	}
	c.Turns = append(c.Turns, t)
	c.MessageCount = len(c.Turns)
	c.added = append(c.added, t)
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
	return t
}

// SortTurns orders turns by timestamp, then insertion sequence.
func (c *Conversation) SortTurns() {
	sort.SliceStable(c.Turns, func(i, j int) bool {
		a, b := c.Turns[i], c.Turns[j]
		if a.Timestamp.Equal(b.Timestamp) {
			return a.Seq < b.Seq
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}

// EvictOldest drops the n oldest turns and returns them. Turns that were
// appended but never saved are simply forgotten; persisted ones are queued
// for deletion.
func (c *Conversation) EvictOldest(n int) []*Turn {
	if n <= 0 {
		return nil
	}
	if n > len(c.Turns) {
		n = len(c.Turns)
	}
	c.SortTurns()

	evicted := make([]*Turn, n)
	copy(evicted, c.Turns[:n])
	c.Turns = append([]*Turn(nil), c.Turns[n:]...)
	c.MessageCount = len(c.Turns)

	for _, t := range evicted {
		if c.dropPending(t.ID) {
			continue
		}
		c.removed = append(c.removed, t.ID)
	}
	return evicted
}

func (c *Conversation) dropPending(id string) bool {
	for i, t := range c.added {
		if t.ID == id {
			c.added = append(c.added[:i], c.added[i+1:]...)
			return true
		}
	}
	return false
}

// TotalTokens is recomputed on every call since eviction changes it.
func (c *Conversation) TotalTokens() int {
	n := 0
	for _, t := range c.Turns {
		n += tokens.Estimate(t.Content)
	}
	return n
}

// Pending returns the turns added and the turn ids removed since the last save.
func (c *Conversation) Pending() (added []*Turn, removed []string) {
	return c.added, c.removed
}

// MarkSaved clears the pending delta after a successful commit.
func (c *Conversation) MarkSaved() {
	c.added = nil
	c.removed = nil
}
