package model

import (
	"encoding/json"
	"time"
)

type Command struct {
	ID          string           `db:"id" json:"id"`
	Seq         int64            `db:"seq" json:"-"`
	AnchorID    string           `db:"anchor_id" json:"anchor_id"`
	Command     string           `db:"command" json:"command"`
	Params      json.RawMessage  `db:"params" json:"params"`
	Status      CommandStatus    `db:"status" json:"status"`
	Result      *json.RawMessage `db:"result" json:"result,omitempty"`
	ClaimedBy   *string          `db:"claimed_by" json:"claimed_by,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	StartedAt   *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

type CreateCommandParams struct {
	ID        string
	AnchorID  string
	Command   string
	Params    json.RawMessage
	CreatedAt time.Time
}

type ClaimCommandsParams struct {
	AnchorID  string
	Limit     int
	ClaimedBy string
	Now       time.Time
}

type FinishCommandParams struct {
	ID     string
	Status CommandStatus
	Result json.RawMessage
	Now    time.Time
}
