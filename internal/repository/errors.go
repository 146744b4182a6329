package repository

import (
	"errors"
	"time"

	"github.com/coramini/relay-server-go/internal/model"
)

// Sentinel outcomes of the atomic pairing writes. Services map them to
// client-facing errors.
var (
	ErrPairingCodeNotFound  = errors.New("pairing code not found")
	ErrPairingCodeExpired   = errors.New("pairing code expired")
	ErrPairingCodeClaimed   = errors.New("pairing code already claimed")
	ErrPairingCodeCollision = errors.New("pairing code collision")
	ErrTokenNotFound        = errors.New("verification token not found")
	ErrTokenUsed            = errors.New("verification token already used")
)

// ClassifyUnclaimable explains why a conditional claim write on pc matched no
// row. pc may be nil when the code does not exist.
func ClassifyUnclaimable(pc *model.PairingCode, now time.Time) error {
	switch {
	case pc == nil:
		return ErrPairingCodeNotFound
	case pc.IsClaimed() || pc.ClaimStartedAt != nil:
		return ErrPairingCodeClaimed
	case pc.IsExpired(now):
		return ErrPairingCodeExpired
	default:
		return ErrPairingCodeClaimed
	}
}
