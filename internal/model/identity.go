package model

import "time"

type Identity struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type VerificationToken struct {
	ID        string     `db:"id" json:"id"`
	TokenHash string     `db:"token_hash" json:"-"`
	Code      string     `db:"code" json:"code"`
	UserID    string     `db:"user_id" json:"user_id"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Device binds one identity to one anchor. Unpairing clears IsActive; rows
// are never deleted.
type Device struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	AnchorID      string    `db:"anchor_id" json:"anchor_id"`
	Name          string    `db:"name" json:"name"`
	PairedAt      time.Time `db:"paired_at" json:"paired_at"`
	LastConnected time.Time `db:"last_connected" json:"last_connected"`
	IsActive      bool      `db:"is_active" json:"is_active"`
}
