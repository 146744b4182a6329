package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coramini/relay-server-go/internal/database"
	"github.com/coramini/relay-server-go/internal/model"
)

type PairingCodeRepository interface {
	FindByCode(ctx context.Context, code string) (*model.PairingCode, error)
	// Replace deletes the anchor's unclaimed codes and inserts a new one.
	// It returns ErrPairingCodeCollision when the code already exists.
	Replace(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	// BeginClaim marks the code claim-started, resolves the identity by email
	// and stores the verification token, all or nothing.
	BeginClaim(ctx context.Context, params model.BeginClaimParams) (*model.BeginClaimResult, error)
	// RedeemToken consumes the token, marks its code claimed and upserts the
	// device binding, all or nothing.
	RedeemToken(ctx context.Context, params model.RedeemTokenParams) (*model.RedeemTokenResult, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

type pairingCodeRepo struct {
	db *sqlx.DB
}

func NewPairingCodeRepository(db *sqlx.DB) PairingCodeRepository {
	return &pairingCodeRepo{db: db}
}

func (r *pairingCodeRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	return findPairingCode(ctx, r.db, code)
}

func findPairingCode(ctx context.Context, db database.DBTX, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := db.GetContext(ctx, &pc, `SELECT * FROM pairing_codes WHERE code = $1`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) Replace(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var created *model.PairingCode
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		// Serialises concurrent issues for the same anchor.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, params.AnchorID); err != nil {
			return err
		}

		// A code string is never handed out twice, even by the same anchor.
		var taken bool
		if err := tx.GetContext(ctx, &taken, `
			SELECT EXISTS (SELECT 1 FROM pairing_codes WHERE code = $1)
		`, params.Code); err != nil {
			return err
		}
		if taken {
			return ErrPairingCodeCollision
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pairing_codes
			WHERE anchor_id = $1 AND claimed_at IS NULL
		`, params.AnchorID); err != nil {
			return err
		}

		var pc model.PairingCode
		err := tx.GetContext(ctx, &pc, `
			INSERT INTO pairing_codes (code, anchor_id, anchor_name, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code) DO NOTHING
			RETURNING *
		`, params.Code, params.AnchorID, params.AnchorName, params.CreatedAt, params.ExpiresAt)
		inserted, err := HandleNotFound(&pc, err)
		if err != nil {
			return err
		}
		if inserted == nil {
			return ErrPairingCodeCollision
		}
		created = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *pairingCodeRepo) BeginClaim(ctx context.Context, params model.BeginClaimParams) (*model.BeginClaimResult, error) {
	var result model.BeginClaimResult
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var pc model.PairingCode
		err := tx.GetContext(ctx, &pc, `
			UPDATE pairing_codes SET claim_started_at = $2
			WHERE code = $1
				AND claim_started_at IS NULL
				AND claimed_at IS NULL
				AND expires_at > $2
			RETURNING *
		`, params.Code, params.Now)
		started, err := HandleNotFound(&pc, err)
		if err != nil {
			return err
		}
		if started == nil {
			current, err := findPairingCode(ctx, tx, params.Code)
			if err != nil {
				return err
			}
			return ClassifyUnclaimable(current, params.Now)
		}

		var identity model.Identity
		if err := tx.GetContext(ctx, &identity, `
			INSERT INTO identities (id, email, name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (email) DO UPDATE SET
				name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE identities.name END,
				updated_at = EXCLUDED.updated_at
			RETURNING *
		`, params.UserID, params.Email, params.Name, params.Now); err != nil {
			return err
		}

		issued, err := params.IssueToken(identity.ID, *started)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO verification_tokens (id, token_hash, code, user_id, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, issued.ID, issued.Hash, params.Code, identity.ID, issued.ExpiresAt, params.Now); err != nil {
			return err
		}

		result = model.BeginClaimResult{PairingCode: *started, Identity: identity}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *pairingCodeRepo) RedeemToken(ctx context.Context, params model.RedeemTokenParams) (*model.RedeemTokenResult, error) {
	var result model.RedeemTokenResult
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var token model.VerificationToken
		err := tx.GetContext(ctx, &token, `
			UPDATE verification_tokens SET used_at = $2
			WHERE token_hash = $1 AND used_at IS NULL
			RETURNING *
		`, params.TokenHash, params.Now)
		redeemed, err := HandleNotFound(&token, err)
		if err != nil {
			return err
		}
		if redeemed == nil {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `
				SELECT EXISTS (SELECT 1 FROM verification_tokens WHERE token_hash = $1)
			`, params.TokenHash); err != nil {
				return err
			}
			if exists {
				return ErrTokenUsed
			}
			return ErrTokenNotFound
		}

		var pc model.PairingCode
		err = tx.GetContext(ctx, &pc, `
			UPDATE pairing_codes SET
				claimed_by = $2,
				claimed_at = $3
			WHERE code = $1
				AND claimed_at IS NULL
				AND expires_at > $3
			RETURNING *
		`, redeemed.Code, redeemed.UserID, params.Now)
		claimed, err := HandleNotFound(&pc, err)
		if err != nil {
			return err
		}
		if claimed == nil {
			current, err := findPairingCode(ctx, tx, redeemed.Code)
			if err != nil {
				return err
			}
			if current != nil && !current.IsClaimed() && current.IsExpired(params.Now) {
				return ErrPairingCodeExpired
			}
			if current == nil {
				return ErrPairingCodeNotFound
			}
			return ErrPairingCodeClaimed
		}

		var identity model.Identity
		if err := tx.GetContext(ctx, &identity, `
			SELECT * FROM identities WHERE id = $1
		`, redeemed.UserID); err != nil {
			return err
		}

		var device model.Device
		if err := tx.GetContext(ctx, &device, `
			INSERT INTO devices (id, user_id, anchor_id, name, paired_at, last_connected, is_active)
			VALUES ($1, $2, $3, $4, $5, $5, TRUE)
			ON CONFLICT (user_id, anchor_id) DO UPDATE SET
				last_connected = EXCLUDED.last_connected,
				is_active = TRUE,
				name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE devices.name END
			RETURNING *
		`, params.DeviceID, redeemed.UserID, claimed.AnchorID, params.DeviceName, params.Now); err != nil {
			return err
		}

		result = model.RedeemTokenResult{PairingCode: *claimed, Identity: identity, Device: device}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *pairingCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes
		WHERE claimed_at IS NULL AND expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *pairingCodeRepo) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM verification_tokens
		WHERE used_at IS NULL AND expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
