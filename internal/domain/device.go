package domain

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceErrorStatus DeviceStatus = "error"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceUnknown     DeviceStatus = "unknown"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceOnline, DeviceOffline, DeviceErrorStatus, DeviceMaintenance, DeviceUnknown:
		return true
	}
	return false
}

// Device là cảm biến gắn với một slot. APIKeyHash là bcrypt hash của
// api key, plaintext chỉ được trả về đúng một lần khi tạo hoặc rotate.
type Device struct {
	ID              int          `json:"id"`
	DeviceUID       string       `json:"device_uid"` // Định danh duy nhất thiết bị gửi lên
	Name            string       `json:"name,omitempty"`
	APIKeyHash      string       `json:"-"` // Không bao giờ trả về hash trong JSON
	SlotID          null.Int     `json:"slot_id"` // Slot mà thiết bị giám sát (nếu đã gán)
	FirmwareVersion string       `json:"firmware_version,omitempty"`
	Status          DeviceStatus `json:"status"`
	LastSeenAt      null.Time    `json:"last_seen_at"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	Slot *Slot `json:"slot,omitempty"` // Không map vào DB
}

type CreateDeviceDTO struct {
	DeviceUID       string `json:"device_uid" binding:"required,min=3,max=64"`
	Name            string `json:"name,omitempty"`
	SlotID          *int   `json:"slot_id,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

type UpdateDeviceDTO struct {
	Name            string `json:"name,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Status          string `json:"status,omitempty"`
}

type LinkSlotDTO struct {
	SlotID int `json:"slot_id" binding:"required"`
}

// DeviceKeyDTO trả về api key mới sau khi tạo device hoặc rotate key.
// Key không được lưu lại ở bất kỳ đâu ngoài hash.
type DeviceKeyDTO struct {
	DeviceID  int    `json:"device_id"`
	DeviceUID string `json:"device_uid"`
	APIKey    string `json:"api_key"`
}
