package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coramini/relay-server-go/internal/model"
)

type DeviceRepository interface {
	FindActiveByAnchorID(ctx context.Context, anchorID string) ([]model.Device, error)
	Deactivate(ctx context.Context, anchorID, deviceID string) (bool, error)
	Touch(ctx context.Context, deviceID string, at time.Time) error
}

type deviceRepo struct {
	db *sqlx.DB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) FindActiveByAnchorID(ctx context.Context, anchorID string) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM devices
		WHERE anchor_id = $1 AND is_active = TRUE
		ORDER BY last_connected DESC
	`, anchorID)
	return devices, err
}

func (r *deviceRepo) Deactivate(ctx context.Context, anchorID, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_active = FALSE
		WHERE id = $1 AND anchor_id = $2 AND is_active = TRUE
	`, deviceID, anchorID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *deviceRepo) Touch(ctx context.Context, deviceID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_connected = $2 WHERE id = $1
	`, deviceID, at)
	return err
}
