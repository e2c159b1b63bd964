package domain

import "time"

// ChangeNotification là một mục trên change feed: mỗi mutation đã commit
// của slot / reservation / device phát đúng một notification.
type ChangeNotification struct {
	Entity    string      `json:"entity"` // "slot", "reservation", "device"
	Action    string      `json:"action"` // "created", "updated", "cancelled", "expired"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ReservationNotification gửi cho dispatcher sau khi transaction commit.
type ReservationNotification struct {
	NotificationID string    `json:"notification_id"`
	Type           string    `json:"type"` // "reservation.created", "reservation.cancelled", "reservation.expired"
	ReservationID  int       `json:"reservation_id"`
	UserID         int       `json:"user_id"`
	SlotID         int       `json:"slot_id"`
	SlotCode       string    `json:"slot_code,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// SlotDisplayCommandPayload là lệnh backend publish xuống thiết bị để
// đổi đèn hiển thị trạng thái slot.
type SlotDisplayCommandPayload struct {
	State     string `json:"state"` // "available", "reserved", "occupied", "maintenance"
	RequestID string `json:"request_id,omitempty"`
}
