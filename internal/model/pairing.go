package model

import (
	"time"
)

type PairingCode struct {
	Code           string     `db:"code" json:"code"`
	AnchorID       string     `db:"anchor_id" json:"anchor_id"`
	AnchorName     string     `db:"anchor_name" json:"anchor_name"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expires_at"`
	ClaimStartedAt *time.Time `db:"claim_started_at" json:"claim_started_at,omitempty"`
	ClaimedBy      *string    `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
}

func (pc *PairingCode) IsClaimed() bool {
	return pc.ClaimedAt != nil
}

// IsExpired reports whether the code is past its expiry at now. A code is
// dead from the instant now reaches ExpiresAt.
func (pc *PairingCode) IsExpired(now time.Time) bool {
	return !now.Before(pc.ExpiresAt)
}

// Status is evaluated lazily; no sweeper has to run for expiry to show.
func (pc *PairingCode) Status(now time.Time) PairingStatus {
	switch {
	case pc.IsClaimed():
		return PairingStatusClaimed
	case pc.IsExpired(now):
		return PairingStatusExpired
	default:
		return PairingStatusPending
	}
}

type CreatePairingCodeParams struct {
	Code       string
	AnchorID   string
	AnchorName string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// BeginClaimParams carries everything StartClaim writes in one atomic step:
// the claim-started mark on the code, the identity upsert and the token row.
type BeginClaimParams struct {
	Code   string
	Email  string
	Name   string
	UserID string // used only when no identity exists for Email
	// IssueToken is called once the identity is resolved, before the token
	// row is written. An error aborts the whole claim start.
	IssueToken func(userID string, code PairingCode) (IssuedToken, error)
	Now        time.Time
}

// IssuedToken is the stored form of a verification token.
type IssuedToken struct {
	ID        string
	Hash      string
	ExpiresAt time.Time
}

type BeginClaimResult struct {
	PairingCode PairingCode
	Identity    Identity
}

type RedeemTokenParams struct {
	TokenHash  string
	DeviceID   string
	DeviceName string
	Now        time.Time
}

type RedeemTokenResult struct {
	PairingCode PairingCode
	Identity    Identity
	Device      Device
}
