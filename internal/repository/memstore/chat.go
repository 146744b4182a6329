package memstore

import (
	"context"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
)

type chatRepo struct {
	s *Store
}

func NewChatRepository(s *Store) repository.ChatRepository {
	return &chatRepo{s: s}
}

func (r *chatRepo) Create(ctx context.Context, params model.CreateChatMessageParams) (*model.ChatMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.chatSeq++
	msg := model.ChatMessage{
		ID:        r.s.chatSeq,
		AnchorID:  params.AnchorID,
		Sender:    params.Sender,
		Message:   params.Message,
		Type:      params.Type,
		CreatedAt: params.CreatedAt,
	}
	r.s.chatByAnchor[params.AnchorID] = append(r.s.chatByAnchor[params.AnchorID], msg)
	return &msg, nil
}

func (r *chatRepo) FindRecent(ctx context.Context, anchorID string, limit int) ([]model.ChatMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	entries := r.s.chatByAnchor[anchorID]
	out := make([]model.ChatMessage, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}
