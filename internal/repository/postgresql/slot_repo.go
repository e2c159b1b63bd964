package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"time"
)

type pgSlotRepository struct {
	db queryer
}

func NewPgSlotRepository(db *sql.DB) repository.SlotRepository {
	return &pgSlotRepository{db: db}
}

func newTxSlotRepository(tx *sql.Tx) repository.SlotRepository {
	return &pgSlotRepository{db: tx}
}

const slotColumns = `id, code, zone, status, last_status_update_source, last_event_timestamp, created_at, updated_at`

func scanSlot(row interface{ Scan(...interface{}) error }) (*domain.Slot, error) {
	slot := &domain.Slot{}
	var zone, lastStatusSource sql.NullString
	var lastEventTime sql.NullTime

	err := row.Scan(
		&slot.ID, &slot.Code, &zone, &slot.Status,
		&lastStatusSource, &lastEventTime, &slot.CreatedAt, &slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if zone.Valid {
		slot.Zone = zone.String
	}
	if lastStatusSource.Valid {
		slot.LastStatusUpdateSource = lastStatusSource.String
	}
	if lastEventTime.Valid {
		t := lastEventTime.Time.In(time.UTC)
		slot.LastEventTimestamp = &t
	}
	slot.CreatedAt = slot.CreatedAt.In(time.UTC)
	slot.UpdatedAt = slot.UpdatedAt.In(time.UTC)
	return slot, nil
}

func (r *pgSlotRepository) Create(ctx context.Context, slot *domain.Slot) (*domain.Slot, error) {
	if slot.Status == "" {
		slot.Status = domain.SlotAvailable
	}
	query := `INSERT INTO slots (code, zone, status, last_status_update_source, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		slot.Code, sql.NullString{String: slot.Zone, Valid: slot.Zone != ""},
		slot.Status, sql.NullString{String: slot.LastStatusUpdateSource, Valid: slot.LastStatusUpdateSource != ""},
	).Scan(&slot.ID, &slot.CreatedAt, &slot.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err, "slots_code_key") {
			return nil, fmt.Errorf("%w: chỗ đỗ với mã '%s' đã tồn tại", repository.ErrDuplicateEntry, slot.Code)
		}
		return nil, fmt.Errorf("SlotRepository.Create: %w", err)
	}
	slot.CreatedAt = slot.CreatedAt.In(time.UTC)
	slot.UpdatedAt = slot.UpdatedAt.In(time.UTC)
	return slot, nil
}

func (r *pgSlotRepository) FindByID(ctx context.Context, id int) (*domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`
	slot, err := scanSlot(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("SlotRepository.FindByID: %w", err)
	}
	return slot, nil
}

func (r *pgSlotRepository) FindByIDForUpdate(ctx context.Context, id int) (*domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 FOR UPDATE`
	slot, err := scanSlot(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("SlotRepository.FindByIDForUpdate: %w", err)
	}
	return slot, nil
}

func (r *pgSlotRepository) FindByCode(ctx context.Context, code string) (*domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE code = $1`
	slot, err := scanSlot(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("SlotRepository.FindByCode: %w", err)
	}
	return slot, nil
}

func (r *pgSlotRepository) FindAll(ctx context.Context) ([]domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots ORDER BY code`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("SlotRepository.FindAll: %w", err)
	}
	defer rows.Close()

	var slots []domain.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("SlotRepository.FindAll (scanning row): %w", err)
		}
		slots = append(slots, *slot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("SlotRepository.FindAll (rows error): %w", err)
	}
	return slots, nil
}

func (r *pgSlotRepository) UpdateStatus(ctx context.Context, id int, status domain.SlotStatus, lastEventTime *time.Time, source string) error {
	query := `UPDATE slots
	           SET status = $1, last_event_timestamp = $2, last_status_update_source = $3, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $4`
	var eventTime sql.NullTime
	if lastEventTime != nil {
		eventTime = sql.NullTime{Time: *lastEventTime, Valid: true}
	}
	var statusSource sql.NullString
	if source != "" {
		statusSource = sql.NullString{String: source, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, status, eventTime, statusSource, id)
	if err != nil {
		return fmt.Errorf("SlotRepository.UpdateStatus: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("SlotRepository.UpdateStatus (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgSlotRepository) Update(ctx context.Context, slot *domain.Slot) (*domain.Slot, error) {
	query := `UPDATE slots
               SET code = $1, zone = $2, status = $3,
                   last_status_update_source = $4, last_event_timestamp = $5, updated_at = CURRENT_TIMESTAMP
               WHERE id = $6
               RETURNING updated_at`

	var zone sql.NullString
	if slot.Zone != "" {
		zone = sql.NullString{String: slot.Zone, Valid: true}
	}
	var lastStatusSource sql.NullString
	if slot.LastStatusUpdateSource != "" {
		lastStatusSource = sql.NullString{String: slot.LastStatusUpdateSource, Valid: true}
	}
	var lastEventTime sql.NullTime
	if slot.LastEventTimestamp != nil {
		lastEventTime = sql.NullTime{Time: *slot.LastEventTimestamp, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		slot.Code, zone, slot.Status, lastStatusSource, lastEventTime, slot.ID,
	).Scan(&slot.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if isUniqueViolation(err, "slots_code_key") {
			return nil, fmt.Errorf("%w: chỗ đỗ với mã '%s' đã tồn tại", repository.ErrDuplicateEntry, slot.Code)
		}
		return nil, fmt.Errorf("SlotRepository.Update: %w", err)
	}
	slot.UpdatedAt = slot.UpdatedAt.In(time.UTC)
	return slot, nil
}

func (r *pgSlotRepository) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM slots WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("SlotRepository.Delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("SlotRepository.Delete (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
