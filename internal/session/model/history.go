package model

import "time"

// Message is a turn as exposed by the history endpoint.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata"`
}

// History is the rendered history response, and the value held by HistoryCache.
type History struct {
	ConversationID string    `json:"conversationId"`
	OwnerID        string    `json:"ownerId"`
	Messages       []Message `json:"messages"`
	TotalMessages  int       `json:"totalMessages"`
	TotalTokens    int       `json:"totalTokens"`
}

// NewHistory renders every turn of conv.
func NewHistory(conv *Conversation) *History {
	msgs := make([]Message, 0, len(conv.Turns))
	for _, t := range conv.Turns {
		msgs = append(msgs, Message{
			ID:        t.ID,
			Role:      string(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp,
			Metadata:  t.Metadata,
		})
	}
	return &History{
		ConversationID: conv.ID,
		OwnerID:        conv.OwnerID,
		Messages:       msgs,
		TotalMessages:  len(msgs),
		TotalTokens:    conv.TotalTokens(),
	}
}

// Summary is a conversation as exposed by create and list.
type Summary struct {
	ConversationID string    `json:"conversationId"`
	OwnerID        string    `json:"ownerId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	MessageCount   int       `json:"messageCount"`
	Metadata       string    `json:"metadata"`
}

// NewSummary renders conv without its turns.
func NewSummary(conv *Conversation) Summary {
	count := conv.MessageCount
	if len(conv.Turns) > count {
		count = len(conv.Turns)
	}
	return Summary{
		ConversationID: conv.ID,
		OwnerID:        conv.OwnerID,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
		MessageCount:   count,
		Metadata:       conv.Metadata,
	}
}
