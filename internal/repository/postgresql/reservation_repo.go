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

type pgReservationRepository struct {
	db queryer
}

func NewPgReservationRepository(db *sql.DB) repository.ReservationRepository {
	return &pgReservationRepository{db: db}
}

func newTxReservationRepository(tx *sql.Tx) repository.ReservationRepository {
	return &pgReservationRepository{db: tx}
}

const reservationColumns = `id, user_id, slot_id, status, reserved_at, expires_at, cancelled_at, ended_at, created_at, updated_at`

func scanReservation(row interface{ Scan(...interface{}) error }) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var cancelledAt, endedAt sql.NullTime

	err := row.Scan(
		&res.ID, &res.UserID, &res.SlotID, &res.Status,
		&res.ReservedAt, &res.ExpiresAt, &cancelledAt, &endedAt,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		res.CancelledAt = null.TimeFrom(cancelledAt.Time.In(time.UTC))
	}
	if endedAt.Valid {
		res.EndedAt = null.TimeFrom(endedAt.Time.In(time.UTC))
	}
	res.ReservedAt = res.ReservedAt.In(time.UTC)
	res.ExpiresAt = res.ExpiresAt.In(time.UTC)
	res.CreatedAt = res.CreatedAt.In(time.UTC)
	res.UpdatedAt = res.UpdatedAt.In(time.UTC)
	return res, nil
}

func (r *pgReservationRepository) Create(ctx context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	query := `INSERT INTO reservations (user_id, slot_id, status, reserved_at, expires_at, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		res.UserID, res.SlotID, res.Status, res.ReservedAt, res.ExpiresAt,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)

	if err != nil {
		// Hai partial unique index là chốt chặn cuối cho race:
		// request thua sẽ rơi vào đây.
		if isUniqueViolation(err, "reservations_open_slot_key") {
			return nil, fmt.Errorf("%w: slot %d đã có reservation đang mở", repository.ErrDuplicateEntry, res.SlotID)
		}
		if isUniqueViolation(err, "reservations_open_user_key") {
			return nil, fmt.Errorf("%w: user %d đã có reservation đang mở", repository.ErrDuplicateEntry, res.UserID)
		}
		return nil, fmt.Errorf("ReservationRepository.Create: %w", err)
	}
	res.CreatedAt = res.CreatedAt.In(time.UTC)
	res.UpdatedAt = res.UpdatedAt.In(time.UTC)
	return res, nil
}

func (r *pgReservationRepository) FindByID(ctx context.Context, id int) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	res, err := scanReservation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ReservationRepository.FindByID: %w", err)
	}
	return res, nil
}

func (r *pgReservationRepository) FindOpenBySlotID(ctx context.Context, slotID int) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE slot_id = $1 AND status = $2`
	res, err := scanReservation(r.db.QueryRowContext(ctx, query, slotID, domain.ReservationActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNoOpenReservation
		}
		return nil, fmt.Errorf("ReservationRepository.FindOpenBySlotID: %w", err)
	}
	return res, nil
}

func (r *pgReservationRepository) FindOpenByUserID(ctx context.Context, userID int) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = $1 AND status = $2`
	res, err := scanReservation(r.db.QueryRowContext(ctx, query, userID, domain.ReservationActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNoOpenReservation
		}
		return nil, fmt.Errorf("ReservationRepository.FindOpenByUserID: %w", err)
	}
	return res, nil
}

func (r *pgReservationRepository) FindByUserID(ctx context.Context, userID int) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = $1 ORDER BY reserved_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepository.FindByUserID: %w", err)
	}
	defer rows.Close()
	return collectReservations(rows, "FindByUserID")
}

func (r *pgReservationRepository) Update(ctx context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	query := `UPDATE reservations
	           SET status = $1, expires_at = $2, cancelled_at = $3, ended_at = $4, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $5
	           RETURNING updated_at`

	var cancelledAt, endedAt sql.NullTime
	if res.CancelledAt.Valid {
		cancelledAt = sql.NullTime{Time: res.CancelledAt.Time, Valid: true}
	}
	if res.EndedAt.Valid {
		endedAt = sql.NullTime{Time: res.EndedAt.Time, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		res.Status, res.ExpiresAt, cancelledAt, endedAt, res.ID,
	).Scan(&res.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ReservationRepository.Update: %w", err)
	}
	res.UpdatedAt = res.UpdatedAt.In(time.UTC)
	return res, nil
}

func (r *pgReservationRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	// Một câu UPDATE duy nhất: chạy đồng thời nhiều lần cũng không thể
	// expire trùng một reservation hai lần.
	query := `UPDATE reservations
	           SET status = $1, ended_at = $2, updated_at = CURRENT_TIMESTAMP
	           WHERE status = $3 AND expires_at <= $2
	           RETURNING ` + reservationColumns
	rows, err := r.db.QueryContext(ctx, query, domain.ReservationExpired, now, domain.ReservationActive)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepository.ExpireOverdue: %w", err)
	}
	defer rows.Close()
	return collectReservations(rows, "ExpireOverdue")
}

func (r *pgReservationRepository) Find(ctx context.Context, filter domain.ReservationFilterDTO) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE 1=1`
	args := []interface{}{}
	argIdx := 1
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.SlotID != nil {
		query += fmt.Sprintf(" AND slot_id = $%d", argIdx)
		args = append(args, *filter.SlotID)
		argIdx++
	}
	query += " ORDER BY reserved_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepository.Find: %w", err)
	}
	defer rows.Close()
	return collectReservations(rows, "Find")
}

func collectReservations(rows *sql.Rows, op string) ([]domain.Reservation, error) {
	var reservations []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("ReservationRepository.%s (scanning row): %w", op, err)
		}
		reservations = append(reservations, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ReservationRepository.%s (rows error): %w", op, err)
	}
	return reservations, nil
}
