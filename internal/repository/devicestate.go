package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceStateRepository keeps device-local key/values in the device_state
// table. It satisfies devicestore.Store for deployments without Redis.
type DeviceStateRepository struct {
	db *pgxpool.Pool
}

// NewDeviceStateRepository creates a new DeviceStateRepository.
func NewDeviceStateRepository(db *pgxpool.Pool) *DeviceStateRepository {
	return &DeviceStateRepository{db: db}
}

// Get retrieves one value. ok is false on a miss.
func (r *DeviceStateRepository) Get(ctx context.Context, device, key string) (string, bool, error) {
	query := `SELECT value FROM device_state WHERE device = $1 AND key = $2`

	var value string
	err := r.db.QueryRow(ctx, query, device, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read device state: %w", err)
	}
	return value, true, nil
}

// Set inserts or updates one value. Last write wins.
func (r *DeviceStateRepository) Set(ctx context.Context, device, key, value string) error {
	query := `
		INSERT INTO device_state (device, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (device, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, device, key, value); err != nil {
		return fmt.Errorf("failed to set device state: %w", err)
	}
	return nil
}

// Delete removes keys for device.
func (r *DeviceStateRepository) Delete(ctx context.Context, device string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := `DELETE FROM device_state WHERE device = $1 AND key = ANY($2)`
	if _, err := r.db.Exec(ctx, query, device, keys); err != nil {
		return fmt.Errorf("failed to delete device state: %w", err)
	}
	return nil
}

// Clear removes everything stored for device.
func (r *DeviceStateRepository) Clear(ctx context.Context, device string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM device_state WHERE device = $1`, device); err != nil {
		return fmt.Errorf("failed to clear device state: %w", err)
	}
	return nil
}
