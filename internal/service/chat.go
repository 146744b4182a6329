package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/config"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
	"github.com/coramini/relay-server-go/internal/util"
)

const maxChatMessageBytes = 16 * 1024

type ChatService struct {
	repo  repository.ChatRepository
	clock clock.Clock
}

func NewChatService(repo repository.ChatRepository, clk clock.Clock) *ChatService {
	return &ChatService{
		repo:  repo,
		clock: clk,
	}
}

func (s *ChatService) Post(ctx context.Context, anchorID, sender, message string, msgType model.ChatMessageType) (int64, error) {
	if strings.TrimSpace(anchorID) == "" {
		return 0, apperrors.MissingRequired("anchor_id")
	}
	if strings.TrimSpace(sender) == "" {
		return 0, apperrors.MissingRequired("sender")
	}
	if message == "" {
		return 0, apperrors.MissingRequired("message")
	}
	if len(message) > maxChatMessageBytes {
		return 0, apperrors.InvalidInput("message", "too long")
	}
	if !util.IsValidEnum(string(msgType), model.ChatMessageTypes) {
		return 0, apperrors.InvalidInput("type", "must be one of "+strings.Join(model.ChatMessageTypes, ", "))
	}
	if msgType == "" {
		msgType = model.ChatMessageText
	}

	msg, err := s.repo.Create(ctx, model.CreateChatMessageParams{
		AnchorID:  anchorID,
		Sender:    sender,
		Message:   message,
		Type:      msgType,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("create chat message: %w", err)
	}
	return msg.ID, nil
}

// Read returns the newest messages first.
func (s *ChatService) Read(ctx context.Context, anchorID string, limit int) ([]model.ChatMessage, error) {
	if strings.TrimSpace(anchorID) == "" {
		return nil, apperrors.MissingRequired("anchor_id")
	}
	if limit <= 0 {
		limit = config.DefaultChatLimit
	}
	if limit > config.MaxChatLimit {
		limit = config.MaxChatLimit
	}

	msgs, err := s.repo.FindRecent(ctx, anchorID, limit)
	if err != nil {
		return nil, fmt.Errorf("read chat: %w", err)
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return msgs, nil
}
