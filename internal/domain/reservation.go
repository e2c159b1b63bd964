package domain

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// IsOpen báo reservation còn đang giữ chỗ hay không. Mỗi slot và mỗi
// user chỉ được phép có tối đa một reservation open tại một thời điểm.
func (s ReservationStatus) IsOpen() bool {
	return s == ReservationActive
}

type Reservation struct {
	ID          int               `json:"id"`
	UserID      int               `json:"user_id"`
	SlotID      int               `json:"slot_id"`
	Status      ReservationStatus `json:"status"`
	ReservedAt  time.Time         `json:"reserved_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	CancelledAt null.Time         `json:"cancelled_at"`
	EndedAt     null.Time         `json:"ended_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	Slot *Slot `json:"slot,omitempty"` // Không map vào DB, dùng để trả về API
}

type CreateReservationDTO struct {
	SlotID           int `json:"slot_id" binding:"required"`
	ExpiresInMinutes int `json:"expires_in_minutes,omitempty"` // Mặc định lấy từ config nếu bỏ trống
}

type ReservationFilterDTO struct {
	Status *string `form:"status"`
	SlotID *int    `form:"slotId"`
}
