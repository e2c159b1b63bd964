package service

import (
	"context"
	"parking_reserve/internal/domain"
)

// Các interface dưới đây cắt phụ thuộc ngược từ service sang handler/iot:
// implementation thật nằm ở internal/notify, internal/iot và
// internal/api/handler. Mọi hook đều tùy chọn, nil thì bỏ qua.

// Dispatcher nhận notification sau khi transaction reservation commit.
// Gửi fire-and-forget, lỗi chỉ được log.
type Dispatcher interface {
	Dispatch(ctx context.Context, n domain.ReservationNotification)
}

// ChangeFeed phát một mục lên feed realtime cho mỗi mutation đã commit.
type ChangeFeed interface {
	BroadcastChange(n domain.ChangeNotification)
}

// SlotCommandPublisher đẩy lệnh đổi đèn hiển thị xuống thiết bị gắn slot.
type SlotCommandPublisher interface {
	PublishSlotDisplay(ctx context.Context, deviceUID string, state domain.SlotStatus, requestID string) error
}
