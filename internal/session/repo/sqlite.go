package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	errx "github.com/ragops-session/server/internal/core/error"
	"github.com/ragops-session/server/internal/session/model"
	logx "github.com/ragops-session/server/pkg/logger"
)

// SQLiteConversationStore is the durable ConversationStore.
type SQLiteConversationStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// NewSQLiteConversationStore creates the schema if needed.
func NewSQLiteConversationStore(ctx context.Context, db *sql.DB) (*SQLiteConversationStore, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteConversationStore{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}, nil
}

// Ping checks the database connection.
func (s *SQLiteConversationStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteConversationStore) Create(ctx context.Context, ownerID, metadata string) (*model.Conversation, error) {
	now := s.now()
	conv := &model.Conversation{
		ID:        s.newID(),
		OwnerID:   model.NormalizeOwner(ownerID),
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, insertConversation,
		conv.ID, conv.OwnerID, conv.Metadata, now.UnixNano(), now.UnixNano())
	if err != nil {
		logx.Error().Err(err).Str("ownerID", conv.OwnerID).Msg("failed to insert conversation")
		return nil, errx.WrapSQL(err)
	}

	logx.Info().Str("conversationID", conv.ID).Str("ownerID", conv.OwnerID).Msg("conversation created")
	return conv, nil
}

func (s *SQLiteConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx, selectConversation, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errx.NotFound("conversation not found: %s", id)
		}
		logx.Error().Err(err).Str("conversationID", id).Msg("failed to load conversation")
		return nil, errx.WrapSQL(err)
	}
	return conv, nil
}

func (s *SQLiteConversationStore) GetWithTurns(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectTurns, id)
	if err != nil {
		logx.Error().Err(err).Str("conversationID", id).Msg("failed to query turns")
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()

	turns := make([]*model.Turn, 0, conv.MessageCount)
	for rows.Next() {
		var (
			t       model.Turn
			role    string
			created int64
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &role, &t.Content, &t.Metadata, &created, &t.Seq); err != nil {
			return nil, errx.WrapSQL(err)
		}
		t.Role = model.Role(role)
		t.Timestamp = time.Unix(0, created).UTC()
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}

	conv.Turns = turns
	conv.MessageCount = len(turns)
	return conv, nil
}

// AppendTurn stages a turn on conv. Nothing is written until Save.
func (s *SQLiteConversationStore) AppendTurn(conv *model.Conversation, role model.Role, content, metadata string) *model.Turn {
	return conv.Append(s.newID(), role, content, metadata, s.now())
}

// Save writes the pending delta of conv in one transaction.
func (s *SQLiteConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	added, removed := conv.Pending()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapSQL(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, touchConversation, conv.UpdatedAt.UnixNano(), conv.ID)
	if err != nil {
		logx.Error().Err(err).Str("conversationID", conv.ID).Msg("failed to update conversation")
		return errx.WrapSQL(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errx.WrapSQL(err)
	} else if n == 0 {
		return errx.NotFound("conversation not found: %s", conv.ID)
	}

	for _, id := range removed {
		if _, err := tx.ExecContext(ctx, deleteTurn, id, conv.ID); err != nil {
			logx.Error().Err(err).Str("conversationID", conv.ID).Str("turnID", id).Msg("failed to delete evicted turn")
			return errx.WrapSQL(err)
		}
	}

	if len(added) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertTurn)
		if err != nil {
			return errx.WrapSQL(err)
		}
		defer stmt.Close()

		for _, t := range added {
			_, err := stmt.ExecContext(ctx, t.ID, conv.ID, string(t.Role), t.Content, t.Metadata, t.Timestamp.UnixNano(), t.Seq)
			if err != nil {
				logx.Error().Err(err).Str("conversationID", conv.ID).Str("turnID", t.ID).Msg("failed to insert turn")
				return errx.WrapSQL(err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		logx.Error().Err(err).Str("conversationID", conv.ID).Msg("failed to commit conversation")
		return errx.WrapSQL(err)
	}

	logx.Debug().
		Str("conversationID", conv.ID).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Int("turns", len(conv.Turns)).
		Msg("conversation saved")
	conv.MarkSaved()
	return nil
}

func (s *SQLiteConversationStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapSQL(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteTurns, id); err != nil {
		return errx.WrapSQL(err)
	}
	res, err := tx.ExecContext(ctx, deleteConversation, id)
	if err != nil {
		logx.Error().Err(err).Str("conversationID", id).Msg("failed to delete conversation")
		return errx.WrapSQL(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errx.WrapSQL(err)
	} else if n == 0 {
		return errx.NotFound("conversation not found: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return errx.WrapSQL(err)
	}
	logx.Info().Str("conversationID", id).Msg("conversation deleted")
	return nil
}

func (s *SQLiteConversationStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	owner := model.NormalizeOwner(ownerID)
	rows, err := s.db.QueryContext(ctx, listByOwner, owner)
	if err != nil {
		logx.Error().Err(err).Str("ownerID", owner).Msg("failed to list conversations")
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()

	convs := []*model.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, errx.WrapSQL(err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}
	return convs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var (
		conv             model.Conversation
		created, updated int64
	)
	if err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Metadata, &created, &updated, &conv.MessageCount); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.Unix(0, created).UTC()
	conv.UpdatedAt = time.Unix(0, updated).UTC()
	return &conv, nil
}

var _ model.ConversationStore = (*SQLiteConversationStore)(nil)
