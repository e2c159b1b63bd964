package domain

import "time"

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotReserved    SlotStatus = "reserved"
	SlotOccupied    SlotStatus = "occupied"
	SlotMaintenance SlotStatus = "maintenance"
)

// Slot là một chỗ đỗ xe có cảm biến giám sát. Trường Status chỉ được
// thay đổi bởi reservation engine và telemetry reconciler; admin chỉ
// được bật/tắt maintenance.
type Slot struct {
	ID                     int        `json:"id"`
	Code                   string     `json:"code"` // Định danh duy nhất, ví dụ "A-01"
	Zone                   string     `json:"zone,omitempty"`
	Status                 SlotStatus `json:"status"`
	LastStatusUpdateSource string     `json:"last_status_update_source,omitempty"`
	LastEventTimestamp     *time.Time `json:"last_event_timestamp,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type CreateSlotDTO struct {
	Code string `json:"code" binding:"required,min=1,max=32"`
	Zone string `json:"zone,omitempty"`
}

type UpdateSlotDTO struct {
	Code   string `json:"code,omitempty"`
	Zone   string `json:"zone,omitempty"`
	Status string `json:"status,omitempty"` // Chỉ chấp nhận "maintenance" hoặc "available"
}
