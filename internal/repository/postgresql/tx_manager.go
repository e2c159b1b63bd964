package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"parking_reserve/internal/repository"
)

type pgTxRepos struct {
	slots        repository.SlotRepository
	reservations repository.ReservationRepository
}

func (t *pgTxRepos) Slots() repository.SlotRepository               { return t.slots }
func (t *pgTxRepos) Reservations() repository.ReservationRepository { return t.reservations }

type pgTxManager struct {
	db *sql.DB
}

func NewPgTxManager(db *sql.DB) repository.TxManager {
	return &pgTxManager{db: db}
}

// Do chạy fn trong một transaction. fn trả về error (hoặc panic) thì
// rollback, ngược lại commit.
func (m *pgTxManager) Do(ctx context.Context, fn func(repository.TxRepos) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lỗi bắt đầu transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	repos := &pgTxRepos{
		slots:        newTxSlotRepository(tx),
		reservations: newTxReservationRepository(tx),
	}

	if err := fn(repos); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("lỗi rollback transaction: %v (nguyên nhân: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("lỗi commit transaction: %w", err)
	}
	return nil
}
