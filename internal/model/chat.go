package model

import "time"

type ChatMessage struct {
	ID        int64           `db:"id" json:"id"`
	AnchorID  string          `db:"anchor_id" json:"anchor_id"`
	Sender    string          `db:"sender" json:"sender"`
	Message   string          `db:"message" json:"message"`
	Type      ChatMessageType `db:"type" json:"type"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

type CreateChatMessageParams struct {
	AnchorID  string
	Sender    string
	Message   string
	Type      ChatMessageType
	CreatedAt time.Time
}
