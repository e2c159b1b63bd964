package domain

import (
	"encoding/json"
	"time"
)

type DeviceEventType string

const (
	EventOccupancy DeviceEventType = "occupancy"
	EventHeartbeat DeviceEventType = "heartbeat"
	EventStatus    DeviceEventType = "status"
	EventError     DeviceEventType = "error"
)

// DeviceEvent là bản ghi audit append-only cho mọi telemetry nhận được,
// kể cả khi sự kiện bị bỏ qua vì cũ hơn trạng thái hiện tại.
type DeviceEvent struct {
	ID              int64           `json:"id"`
	DeviceID        int             `json:"device_id"`
	DeviceUID       string          `json:"device_uid"`
	EventType       DeviceEventType `json:"event_type"`
	IsOccupied      *bool           `json:"is_occupied,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"` // Payload gốc, lưu dạng JSONB
	EventTimestamp  time.Time       `json:"event_timestamp"`
	ReceivedAt      time.Time       `json:"received_at"`
	ProcessedStatus string          `json:"processed_status"` // "processed", "skipped", "error"
	ProcessingNotes string          `json:"processing_notes,omitempty"`
}

// IngestEventDTO là payload thiết bị gửi qua HTTP. Trên đường SQS thì
// api_key bỏ trống vì AWS IoT đã xác thực mTLS trước khi đẩy vào queue.
type IngestEventDTO struct {
	DeviceID   string          `json:"device_id" binding:"required"`
	APIKey     string          `json:"api_key,omitempty"`
	EventType  string          `json:"event_type" binding:"required"`
	IsOccupied *bool           `json:"is_occupied,omitempty"`
	Status     string          `json:"status,omitempty"` // Trạng thái thiết bị tự báo cáo với sự kiện "status"
	Timestamp  string          `json:"timestamp,omitempty"` // ISO 8601 UTC, mặc định là giờ server
	Raw        json.RawMessage `json:"raw,omitempty"`
}
