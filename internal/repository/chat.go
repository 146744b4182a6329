package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/coramini/relay-server-go/internal/model"
)

type ChatRepository interface {
	Create(ctx context.Context, params model.CreateChatMessageParams) (*model.ChatMessage, error)
	// FindRecent returns up to limit messages for the anchor, newest first.
	FindRecent(ctx context.Context, anchorID string, limit int) ([]model.ChatMessage, error)
}

type chatRepo struct {
	db *sqlx.DB
}

func NewChatRepository(db *sqlx.DB) ChatRepository {
	return &chatRepo{db: db}
}

func (r *chatRepo) Create(ctx context.Context, params model.CreateChatMessageParams) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO chat_messages (anchor_id, sender, message, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.AnchorID, params.Sender, params.Message, params.Type, params.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *chatRepo) FindRecent(ctx context.Context, anchorID string, limit int) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM chat_messages
		WHERE anchor_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, anchorID, limit)
	return msgs, err
}
