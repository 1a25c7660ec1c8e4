package window

import (
	"github.com/cloudwego/eino/schema"

	errx "github.com/ragops-session/server/internal/core/error"
	"github.com/ragops-session/server/internal/session/model"
)

const (
	DefaultWindow    = 10
	DefaultMaxTokens = 4000
)

// Policy bounds a conversation to its most recent Window pairs of turns and
// caps the estimated size of what remains.
type Policy struct {
	Window    int `envconfig:"SESSION_WINDOW_PAIRS" default:"10"`
	MaxTokens int `envconfig:"SESSION_MAX_TOKENS" default:"4000"`
}

func (p Policy) window() int {
	if p.Window <= 0 {
		return DefaultWindow
	}
	return p.Window
}

func (p Policy) maxTokens() int {
	if p.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return p.MaxTokens
}

// Limit is the number of turns retained, two per pair.
func (p Policy) Limit() int {
	return 2 * p.window()
}

// Apply evicts the oldest turns beyond Limit and returns how many were removed.
// It must only run once every turn of an exchange has been appended.
func (p Policy) Apply(conv *model.Conversation) int {
	over := len(conv.Turns) - p.Limit()
	if over <= 0 {
		return 0
	}
	return len(conv.EvictOldest(over))
}

// Enforce rejects a conversation whose remaining turns are over budget.
func (p Policy) Enforce(conv *model.Conversation) error {
	if total := conv.TotalTokens(); total > p.maxTokens() {
		return errx.TokenLimitExceeded(total, p.maxTokens())
	}
	return nil
}

// Settle applies eviction and then the budget. On error the caller discards
// conv without saving it.
func (p Policy) Settle(conv *model.Conversation) (int, error) {
	evicted := p.Apply(conv)
	if err := p.Enforce(conv); err != nil {
		return evicted, err
	}
	return evicted, nil
}

// Render returns the bounded history forwarded to the answer engine.
func (p Policy) Render(conv *model.Conversation) []*schema.Message {
	recent := trimTail(conv.Turns, p.Limit())
	if len(recent) == 0 {
		return nil
	}

	msgs := make([]*schema.Message, 0, len(recent))
	for _, t := range recent {
		if t == nil {
			continue
		}
		msgs = append(msgs, &schema.Message{
			Role:    schema.RoleType(t.Role.Lower()),
			Content: t.Content,
		})
	}
	return msgs
}

func trimTail(turns []*model.Turn, max int) []*model.Turn {
	if len(turns) <= max {
		result := make([]*model.Turn, len(turns))
		copy(result, turns)
		return result
	}
	source := turns[len(turns)-max:]
	result := make([]*model.Turn, len(source))
	copy(result, source)
	return result
}
