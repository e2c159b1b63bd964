package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"time"

	"gopkg.in/guregu/null.v4"
)

type pgDeviceRepository struct {
	db queryer
}

func NewPgDeviceRepository(db *sql.DB) repository.DeviceRepository {
	return &pgDeviceRepository{db: db}
}

const deviceColumns = `id, device_uid, name, api_key_hash, slot_id, firmware_version, status, last_seen_at, created_at, updated_at`

func scanDevice(row interface{ Scan(...interface{}) error }) (*domain.Device, error) {
	device := &domain.Device{}
	var name, firmwareVersion sql.NullString
	var slotID sql.NullInt64
	var lastSeenAt sql.NullTime

	err := row.Scan(
		&device.ID, &device.DeviceUID, &name, &device.APIKeyHash, &slotID,
		&firmwareVersion, &device.Status, &lastSeenAt, &device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name.Valid {
		device.Name = name.String
	}
	if slotID.Valid {
		device.SlotID = null.IntFrom(slotID.Int64)
	}
	if firmwareVersion.Valid {
		device.FirmwareVersion = firmwareVersion.String
	}
	if lastSeenAt.Valid {
		device.LastSeenAt = null.TimeFrom(lastSeenAt.Time.In(time.UTC))
	}
	device.CreatedAt = device.CreatedAt.In(time.UTC)
	device.UpdatedAt = device.UpdatedAt.In(time.UTC)
	return device, nil
}

func (r *pgDeviceRepository) Create(ctx context.Context, device *domain.Device) (*domain.Device, error) {
	if device.Status == "" {
		device.Status = domain.DeviceUnknown
	}
	query := `INSERT INTO devices (device_uid, name, api_key_hash, slot_id, firmware_version, status, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING id, created_at, updated_at`

	var slotID sql.NullInt64
	if device.SlotID.Valid {
		slotID = sql.NullInt64{Int64: device.SlotID.Int64, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		device.DeviceUID,
		sql.NullString{String: device.Name, Valid: device.Name != ""},
		device.APIKeyHash, slotID,
		sql.NullString{String: device.FirmwareVersion, Valid: device.FirmwareVersion != ""},
		device.Status,
	).Scan(&device.ID, &device.CreatedAt, &device.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err, "devices_device_uid_key") {
			return nil, fmt.Errorf("%w: thiết bị '%s' đã tồn tại", repository.ErrDuplicateEntry, device.DeviceUID)
		}
		if isUniqueViolation(err, "devices_slot_id_key") {
			return nil, fmt.Errorf("%w: slot %d đã được gán cho thiết bị khác", repository.ErrDuplicateEntry, device.SlotID.Int64)
		}
		return nil, fmt.Errorf("DeviceRepository.Create: %w", err)
	}
	device.CreatedAt = device.CreatedAt.In(time.UTC)
	device.UpdatedAt = device.UpdatedAt.In(time.UTC)
	return device, nil
}

func (r *pgDeviceRepository) FindByID(ctx context.Context, id int) (*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("DeviceRepository.FindByID: %w", err)
	}
	return device, nil
}

func (r *pgDeviceRepository) FindByUID(ctx context.Context, deviceUID string) (*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_uid = $1`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("DeviceRepository.FindByUID: %w", err)
	}
	return device, nil
}

func (r *pgDeviceRepository) FindBySlotID(ctx context.Context, slotID int) (*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE slot_id = $1`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, slotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("DeviceRepository.FindBySlotID: %w", err)
	}
	return device, nil
}

func (r *pgDeviceRepository) FindAll(ctx context.Context) ([]domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY device_uid`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("DeviceRepository.FindAll: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("DeviceRepository.FindAll (scanning row): %w", err)
		}
		devices = append(devices, *device)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("DeviceRepository.FindAll (rows error): %w", err)
	}
	return devices, nil
}

func (r *pgDeviceRepository) Update(ctx context.Context, device *domain.Device) (*domain.Device, error) {
	query := `UPDATE devices
	           SET name = $1, slot_id = $2, firmware_version = $3, status = $4, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $5
	           RETURNING updated_at`

	var slotID sql.NullInt64
	if device.SlotID.Valid {
		slotID = sql.NullInt64{Int64: device.SlotID.Int64, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		sql.NullString{String: device.Name, Valid: device.Name != ""},
		slotID,
		sql.NullString{String: device.FirmwareVersion, Valid: device.FirmwareVersion != ""},
		device.Status, device.ID,
	).Scan(&device.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if isUniqueViolation(err, "devices_slot_id_key") {
			return nil, fmt.Errorf("%w: slot %d đã được gán cho thiết bị khác", repository.ErrDuplicateEntry, device.SlotID.Int64)
		}
		return nil, fmt.Errorf("DeviceRepository.Update: %w", err)
	}
	device.UpdatedAt = device.UpdatedAt.In(time.UTC)
	return device, nil
}

func (r *pgDeviceRepository) UpdateKeyHash(ctx context.Context, id int, keyHash string) error {
	query := `UPDATE devices SET api_key_hash = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, keyHash, id)
	if err != nil {
		return fmt.Errorf("DeviceRepository.UpdateKeyHash: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeviceRepository.UpdateKeyHash (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgDeviceRepository) UpdateStatus(ctx context.Context, deviceUID string, status domain.DeviceStatus, lastSeenAt time.Time) error {
	query := `UPDATE devices SET status = $1, last_seen_at = $2, updated_at = CURRENT_TIMESTAMP WHERE device_uid = $3`
	result, err := r.db.ExecContext(ctx, query, status, lastSeenAt, deviceUID)
	if err != nil {
		return fmt.Errorf("DeviceRepository.UpdateStatus: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeviceRepository.UpdateStatus (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgDeviceRepository) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM devices WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("DeviceRepository.Delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeviceRepository.Delete (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
