package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"parking_reserve/internal/config"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewDB(cfg *config.Config) (*sql.DB, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSslMode)

	db, err := sql.Open("pgx", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("lỗi mở kết nối database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("lỗi ping database: %w", err)
	}
	return db, nil
}

// queryer được cả *sql.DB lẫn *sql.Tx thỏa mãn, để các repository chạy
// được trên connection thường hoặc bên trong transaction.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// isUniqueViolation nhận diện lỗi unique constraint do driver pgx trả về
// (*pgconn.PgError, code 23505) trên đúng constraint được hỏi.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username VARCHAR(50) NOT NULL,
		password_hash TEXT NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'driver',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT users_username_key UNIQUE (username)
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id SERIAL PRIMARY KEY,
		code VARCHAR(32) NOT NULL,
		zone VARCHAR(32),
		status VARCHAR(20) NOT NULL DEFAULT 'available',
		last_status_update_source VARCHAR(40),
		last_event_timestamp TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT slots_code_key UNIQUE (code)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		slot_id INTEGER NOT NULL REFERENCES slots(id),
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		reserved_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		cancelled_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	// Chốt chặn cuối cùng cho bất biến "một reservation mở cho mỗi slot /
	// mỗi user": request thua trong race sẽ dính unique_violation.
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_open_slot_key
		ON reservations (slot_id) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_open_user_key
		ON reservations (user_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS reservations_expires_at_idx
		ON reservations (expires_at) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS devices (
		id SERIAL PRIMARY KEY,
		device_uid VARCHAR(64) NOT NULL,
		name VARCHAR(100),
		api_key_hash TEXT NOT NULL,
		slot_id INTEGER REFERENCES slots(id),
		firmware_version VARCHAR(40),
		status VARCHAR(20) NOT NULL DEFAULT 'unknown',
		last_seen_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT devices_device_uid_key UNIQUE (device_uid),
		CONSTRAINT devices_slot_id_key UNIQUE (slot_id)
	)`,
	`CREATE TABLE IF NOT EXISTS device_events (
		id BIGSERIAL PRIMARY KEY,
		device_id INTEGER REFERENCES devices(id),
		device_uid VARCHAR(64),
		event_type VARCHAR(20),
		is_occupied BOOLEAN,
		payload JSONB,
		event_timestamp TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		processed_status VARCHAR(20),
		processing_notes TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS device_events_device_id_idx
		ON device_events (device_id, received_at DESC)`,
}

// Migrate chạy toàn bộ schema khi khởi động. Các câu lệnh đều idempotent
// nên chạy lại nhiều lần không sao.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("lỗi chạy migration thứ %d: %w", i+1, err)
		}
	}
	return nil
}
