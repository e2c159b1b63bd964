package repository

import (
	"context"
	"errors"
	"parking_reserve/internal/domain"
	"time"
)

var ErrNotFound = errors.New("không tìm thấy bản ghi")
var ErrDuplicateEntry = errors.New("bản ghi đã tồn tại")
var ErrNoOpenReservation = errors.New("không tìm thấy reservation đang mở cho thông tin cung cấp")

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByID(ctx context.Context, id int) (*domain.User, error)
}

type SlotRepository interface {
	Create(ctx context.Context, slot *domain.Slot) (*domain.Slot, error)
	FindByID(ctx context.Context, id int) (*domain.Slot, error)
	// FindByIDForUpdate khóa row slot (SELECT ... FOR UPDATE). Chỉ có ý
	// nghĩa khi gọi bên trong TxManager.Do.
	FindByIDForUpdate(ctx context.Context, id int) (*domain.Slot, error)
	FindByCode(ctx context.Context, code string) (*domain.Slot, error)
	FindAll(ctx context.Context) ([]domain.Slot, error)
	UpdateStatus(ctx context.Context, id int, status domain.SlotStatus, lastEventTime *time.Time, source string) error
	Update(ctx context.Context, slot *domain.Slot) (*domain.Slot, error)
	Delete(ctx context.Context, id int) error
}

type ReservationRepository interface {
	Create(ctx context.Context, res *domain.Reservation) (*domain.Reservation, error)
	FindByID(ctx context.Context, id int) (*domain.Reservation, error)
	FindOpenBySlotID(ctx context.Context, slotID int) (*domain.Reservation, error)
	FindOpenByUserID(ctx context.Context, userID int) (*domain.Reservation, error)
	FindByUserID(ctx context.Context, userID int) ([]domain.Reservation, error)
	Update(ctx context.Context, res *domain.Reservation) (*domain.Reservation, error)
	// ExpireOverdue chuyển mọi reservation active có expires_at <= now
	// sang expired trong một câu UPDATE duy nhất và trả về các bản ghi
	// vừa chuyển.
	ExpireOverdue(ctx context.Context, now time.Time) ([]domain.Reservation, error)
	Find(ctx context.Context, filter domain.ReservationFilterDTO) ([]domain.Reservation, error)
}

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) (*domain.Device, error)
	FindByID(ctx context.Context, id int) (*domain.Device, error)
	FindByUID(ctx context.Context, deviceUID string) (*domain.Device, error)
	FindBySlotID(ctx context.Context, slotID int) (*domain.Device, error)
	FindAll(ctx context.Context) ([]domain.Device, error)
	Update(ctx context.Context, device *domain.Device) (*domain.Device, error)
	UpdateKeyHash(ctx context.Context, id int, keyHash string) error
	UpdateStatus(ctx context.Context, deviceUID string, status domain.DeviceStatus, lastSeenAt time.Time) error
	Delete(ctx context.Context, id int) error
}

type DeviceEventRepository interface {
	Create(ctx context.Context, event *domain.DeviceEvent) error
	FindRecentByDeviceID(ctx context.Context, deviceID int, limit int) ([]domain.DeviceEvent, error)
}

// TxRepos cung cấp các repository chạy trên cùng một transaction.
type TxRepos interface {
	Slots() SlotRepository
	Reservations() ReservationRepository
}

// TxManager bọc BeginTx/Commit/Rollback. fn trả về error thì transaction
// rollback, ngược lại commit.
type TxManager interface {
	Do(ctx context.Context, fn func(TxRepos) error) error
}
