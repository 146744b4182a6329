package model

import (
	"encoding/json"
	"time"
)

// AnchorStatus is the single presence row an anchor overwrites on every
// heartbeat. Online is written but never trusted on read; see Presence.
type AnchorStatus struct {
	AnchorID   string          `db:"anchor_id" json:"anchor_id"`
	Online     bool            `db:"online" json:"-"`
	LastSeen   time.Time       `db:"last_seen" json:"last_seen"`
	SystemInfo json.RawMessage `db:"system_info" json:"system_info"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

type UpsertHeartbeatParams struct {
	AnchorID   string
	SystemInfo json.RawMessage
	Now        time.Time
}

// Presence is the read-side view of an anchor. Online is derived from
// LastSeen at read time. Error is "not found" when no heartbeat was ever
// recorded, which is distinct from a stale LastSeen.
type Presence struct {
	AnchorID   string          `json:"anchor_id"`
	Online     bool            `json:"online"`
	LastSeen   *time.Time      `json:"last_seen,omitempty"`
	SystemInfo json.RawMessage `json:"system_info,omitempty"`
	Error      string          `json:"error,omitempty"`
}

const PresenceNotFound = "not found"

func (p *Presence) Found() bool {
	return p.Error != PresenceNotFound
}
