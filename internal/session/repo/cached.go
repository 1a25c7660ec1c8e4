package repo

import (
	"context"

	"github.com/ragops-session/server/internal/session/model"
	logx "github.com/ragops-session/server/pkg/logger"
)

// CachedConversationStore decorates a ConversationStore so that every
// successful Save or Delete drops the cached history of that conversation.
// Invalidation failures are logged and never fail the mutation.
type CachedConversationStore struct {
	model.ConversationStore
	cache model.HistoryCache
}

func NewCachedConversationStore(store model.ConversationStore, cache model.HistoryCache) *CachedConversationStore {
	return &CachedConversationStore{ConversationStore: store, cache: cache}
}

func (s *CachedConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	if err := s.ConversationStore.Save(ctx, conv); err != nil {
		return err
	}
	s.invalidate(ctx, conv.ID)
	return nil
}

func (s *CachedConversationStore) Delete(ctx context.Context, id string) error {
	if err := s.ConversationStore.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedConversationStore) invalidate(ctx context.Context, id string) {
	// The mutation is already committed; a cancelled request must not leave
	// a stale entry behind.
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), id); err != nil {
		logx.Warn().Err(err).Str("conversationID", id).Msg("failed to invalidate cached history")
	}
}

var _ model.ConversationStore = (*CachedConversationStore)(nil)
