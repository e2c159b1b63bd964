package postgresql

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (repository.ReservationRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPgReservationRepository(db), mock, func() { db.Close() }
}

func reservationRows(res *domain.Reservation) *sqlmock.Rows {
	var cancelledAt, endedAt sql.NullTime
	if res.CancelledAt.Valid {
		cancelledAt = sql.NullTime{Time: res.CancelledAt.Time, Valid: true}
	}
	if res.EndedAt.Valid {
		endedAt = sql.NullTime{Time: res.EndedAt.Time, Valid: true}
	}
	return sqlmock.NewRows([]string{
		"id", "user_id", "slot_id", "status", "reserved_at", "expires_at",
		"cancelled_at", "ended_at", "created_at", "updated_at",
	}).AddRow(
		res.ID, res.UserID, res.SlotID, string(res.Status), res.ReservedAt, res.ExpiresAt,
		cancelledAt, endedAt, res.CreatedAt, res.UpdatedAt,
	)
}

func TestReservationCreate(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reservations`)).
		WithArgs(10, 1, string(domain.ReservationActive), now, now.Add(15*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))

	created, err := repo.Create(context.Background(), &domain.Reservation{
		UserID: 10, SlotID: 1, Status: domain.ReservationActive,
		ReservedAt: now, ExpiresAt: now.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 7, created.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationCreate_UniqueViolationMapping(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
	}{
		{"slot đã có reservation mở", "reservations_open_slot_key"},
		{"user đã có reservation mở", "reservations_open_user_key"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, cleanup := newMockRepo(t)
			defer cleanup()

			// Driver pgx trả lỗi dạng *pgconn.PgError, không phải *pq.Error.
			pgErr := &pgconn.PgError{Code: "23505", ConstraintName: tc.constraint}
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reservations`)).
				WillReturnError(pgErr)

			now := time.Now().UTC()
			_, err := repo.Create(context.Background(), &domain.Reservation{
				UserID: 10, SlotID: 1, Status: domain.ReservationActive,
				ReservedAt: now, ExpiresAt: now.Add(15 * time.Minute),
			})
			assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
		})
	}
}

func TestReservationFindByID_NotFound(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, slot_id, status, reserved_at, expires_at, cancelled_at, ended_at, created_at, updated_at FROM reservations WHERE id = $1`)).
		WithArgs(99).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReservationFindOpenBySlotID(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	now := time.Now().UTC()
	open := &domain.Reservation{
		ID: 3, UserID: 10, SlotID: 1, Status: domain.ReservationActive,
		ReservedAt: now, ExpiresAt: now.Add(15 * time.Minute), CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectQuery(`SELECT .+ FROM reservations WHERE slot_id = \$1 AND status = \$2`).
		WithArgs(1, string(domain.ReservationActive)).
		WillReturnRows(reservationRows(open))

	found, err := repo.FindOpenBySlotID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, found.ID)

	mock.ExpectQuery(`SELECT .+ FROM reservations WHERE slot_id = \$1 AND status = \$2`).
		WithArgs(2, string(domain.ReservationActive)).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindOpenBySlotID(context.Background(), 2)
	assert.ErrorIs(t, err, repository.ErrNoOpenReservation)
}

func TestReservationExpireOverdue(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	now := time.Now().UTC()
	overdue := &domain.Reservation{
		ID: 5, UserID: 10, SlotID: 1, Status: domain.ReservationExpired,
		ReservedAt: now.Add(-30 * time.Minute), ExpiresAt: now.Add(-15 * time.Minute),
		CreatedAt: now.Add(-30 * time.Minute), UpdatedAt: now,
	}
	overdue.EndedAt.SetValid(now)

	mock.ExpectQuery(`UPDATE reservations\s+SET status = \$1, ended_at = \$2, updated_at = CURRENT_TIMESTAMP\s+WHERE status = \$3 AND expires_at <= \$2\s+RETURNING`).
		WithArgs(string(domain.ReservationExpired), now, string(domain.ReservationActive)).
		WillReturnRows(reservationRows(overdue))

	expired, err := repo.ExpireOverdue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, 5, expired[0].ID)
	assert.Equal(t, domain.ReservationExpired, expired[0].Status)
	assert.True(t, expired[0].EndedAt.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationExpireOverdue_NoRows(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(`UPDATE reservations`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "slot_id", "status", "reserved_at", "expires_at",
			"cancelled_at", "ended_at", "created_at", "updated_at",
		}))

	expired, err := repo.ExpireOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, expired)
}
