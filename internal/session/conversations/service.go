package conversations

import (
	"context"
	"errors"
	"strings"

	errx "github.com/ragops-session/server/internal/core/error"
	"github.com/ragops-session/server/internal/metrics"
	"github.com/ragops-session/server/internal/session/model"
	"github.com/ragops-session/server/internal/session/window"
	logx "github.com/ragops-session/server/pkg/logger"
)

// Service manages conversations outside of an engine exchange.
type Service struct {
	store   model.ConversationStore
	cache   model.HistoryCache
	policy  window.Policy
	metrics *metrics.Metrics
}

// NewService expects store to invalidate cache on mutation, as
// repo.CachedConversationStore does.
func NewService(store model.ConversationStore, cache model.HistoryCache, policy window.Policy, m *metrics.Metrics) *Service {
	return &Service{store: store, cache: cache, policy: policy, metrics: m}
}

func (s *Service) Create(ctx context.Context, ownerID, metadata string) (model.Summary, error) {
	conv, err := s.store.Create(ctx, ownerID, metadata)
	if err != nil {
		return model.Summary{}, err
	}
	return model.NewSummary(conv), nil
}

// History reads through the cache. Cache failures fall back to the store.
func (s *Service) History(ctx context.Context, id string) (*model.History, error) {
	h, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		logx.Warn().Err(err).Str("conversationID", id).Msg("history cache read failed, using store")
	} else if ok {
		return h, nil
	}

	conv, err := s.store.GetWithTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	h = model.NewHistory(conv)

	if err := s.cache.Set(ctx, id, h); err != nil {
		logx.Warn().Err(err).Str("conversationID", id).Msg("failed to populate history cache")
		return h, nil
	}
	s.revalidate(ctx, conv)
	return h, nil
}

// revalidate drops the entry just cached when a mutation committed between
// loading conv and writing the cache, since that mutation's invalidation may
// have run before the write.
func (s *Service) revalidate(ctx context.Context, conv *model.Conversation) {
	cur, err := s.store.Get(ctx, conv.ID)
	if err == nil && cur.UpdatedAt.Equal(conv.UpdatedAt) && cur.MessageCount == len(conv.Turns) {
		return
	}
	logx.Debug().Str("conversationID", conv.ID).Msg("conversation changed while caching history, dropping entry")
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), conv.ID); err != nil {
		logx.Warn().Err(err).Str("conversationID", conv.ID).Msg("failed to drop stale history")
	}
}

// Append adds a single turn outside of an exchange. The window and budget are
// applied before anything is persisted.
func (s *Service) Append(ctx context.Context, id, role, content, metadata string) (model.Message, error) {
	r, ok := model.ParseRole(role)
	if !ok {
		return model.Message{}, errx.Validation("role must be USER or ASSISTANT")
	}
	if strings.TrimSpace(content) == "" {
		return model.Message{}, errx.Validation("content must not be empty")
	}

	conv, err := s.store.GetWithTurns(ctx, id)
	if err != nil {
		return model.Message{}, err
	}

	turn := s.store.AppendTurn(conv, r, content, metadata)
	evicted, err := s.policy.Settle(conv)
	if err != nil {
		if errors.Is(err, errx.ErrTokenLimitExceeded) {
			s.metrics.TokenLimitRejected()
		}
		logx.Warn().Err(err).Str("conversationID", id).Msg("append rejected")
		return model.Message{}, err
	}

	if err := s.store.Save(ctx, conv); err != nil {
		return model.Message{}, err
	}
	s.metrics.Evicted(evicted)

	logx.Info().
		Str("conversationID", id).
		Str("role", string(r)).
		Int("evicted", evicted).
		Int("turns", len(conv.Turns)).
		Msg("turn appended")

	return model.Message{
		ID:        turn.ID,
		Role:      string(turn.Role),
		Content:   turn.Content,
		Timestamp: turn.Timestamp,
		Metadata:  turn.Metadata,
	}, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, ownerID string) ([]model.Summary, error) {
	convs, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, model.NewSummary(c))
	}
	return out, nil
}
