package model

import (
	"context"
)

// ConversationStore is the durable home of conversations and their turns.
// Turns are staged in memory with AppendTurn and written together by Save.
type ConversationStore interface {
	// Create persists a new empty conversation. A blank owner becomes DefaultOwner.
	Create(ctx context.Context, ownerID, metadata string) (*Conversation, error)

	// Get loads a conversation without its turns; MessageCount is populated.
	Get(ctx context.Context, id string) (*Conversation, error)

	// GetWithTurns loads a conversation with turns ascending by timestamp.
	GetWithTurns(ctx context.Context, id string) (*Conversation, error)

	// AppendTurn adds a turn in memory only; nothing is written until Save.
	AppendTurn(conv *Conversation, role Role, content, metadata string) *Turn

	// Save persists pending turn additions and removals plus the conversation
	// timestamp as one atomic unit.
	Save(ctx context.Context, conv *Conversation) error

	// Delete removes the conversation and cascades to its turns.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns the owner's conversations, most recently updated first.
	ListByOwner(ctx context.Context, ownerID string) ([]*Conversation, error)
}

// HistoryCache holds fully rendered history responses keyed by conversation id.
type HistoryCache interface {
	// Get returns the cached history and whether it was present.
	Get(ctx context.Context, conversationID string) (*History, bool, error)

	// Set stores a rendered history.
	Set(ctx context.Context, conversationID string, history *History) error

	// Invalidate drops the cached history for a conversation.
	Invalidate(ctx context.Context, conversationID string) error
}
