package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var ErrDeviceAuth = errors.New("thiết bị hoặc api key không hợp lệ")
var ErrInvalidEventType = errors.New("loại sự kiện không được hỗ trợ")

// TelemetryService nhận telemetry từ thiết bị (HTTP hoặc SQS), ghi audit
// log và đối soát trạng thái occupancy của slot.
type TelemetryService struct {
	deviceRepo      repository.DeviceRepository
	slotRepo        repository.SlotRepository
	reservationRepo repository.ReservationRepository
	eventRepo       repository.DeviceEventRepository
	feed            ChangeFeed
	nowFn           func() time.Time
}

func NewTelemetryService(
	deviceRepo repository.DeviceRepository,
	slotRepo repository.SlotRepository,
	reservationRepo repository.ReservationRepository,
	eventRepo repository.DeviceEventRepository,
	feed ChangeFeed,
) *TelemetryService {
	return &TelemetryService{
		deviceRepo:      deviceRepo,
		slotRepo:        slotRepo,
		reservationRepo: reservationRepo,
		eventRepo:       eventRepo,
		feed:            feed,
		nowFn:           time.Now,
	}
}

// VerifyDevice xác thực credential thiết bị trên đường HTTP. Không phân
// biệt "không có thiết bị" với "sai key" để tránh lộ thông tin.
func (s *TelemetryService) VerifyDevice(ctx context.Context, deviceUID string, apiKey string) (*domain.Device, error) {
	device, err := s.deviceRepo.FindByUID(ctx, deviceUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceAuth
		}
		return nil, fmt.Errorf("lỗi tìm thiết bị: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(device.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrDeviceAuth
	}
	return device, nil
}

// IngestEvent xử lý một sự kiện đã xác thực: ghi audit, cập nhật liveness
// của thiết bị, và với occupancy thì đối soát trạng thái slot.
func (s *TelemetryService) IngestEvent(ctx context.Context, device *domain.Device, dto domain.IngestEventDTO) error {
	now := s.nowFn().UTC()
	eventType := domain.DeviceEventType(dto.EventType)

	record := &domain.DeviceEvent{
		DeviceID:       device.ID,
		DeviceUID:      device.DeviceUID,
		EventType:      eventType,
		IsOccupied:     dto.IsOccupied,
		Payload:        dto.Raw,
		EventTimestamp: s.parseEventTime(dto.Timestamp, now),
		ReceivedAt:     now,
	}

	switch eventType {
	case domain.EventOccupancy, domain.EventHeartbeat, domain.EventStatus, domain.EventError:
	default:
		record.ProcessedStatus = "error"
		record.ProcessingNotes = fmt.Sprintf("event_type không hợp lệ: '%s'", dto.EventType)
		s.appendAudit(ctx, record)
		return fmt.Errorf("%w: '%s'", ErrInvalidEventType, dto.EventType)
	}

	// Mọi sự kiện hợp lệ đều chứng tỏ thiết bị còn sống.
	deviceStatus := domain.DeviceOnline
	switch eventType {
	case domain.EventError:
		deviceStatus = domain.DeviceErrorStatus
	case domain.EventStatus:
		// Sự kiện "status" mang trạng thái thiết bị tự báo cáo; giá trị
		// không hợp lệ thì coi như báo cáo còn sống bình thường.
		if reported := domain.DeviceStatus(dto.Status); reported.Valid() {
			deviceStatus = reported
		} else {
			log.Printf("Thiết bị '%s' báo trạng thái không hợp lệ '%s'. Coi là online.", device.DeviceUID, dto.Status)
		}
	}
	if err := s.deviceRepo.UpdateStatus(ctx, device.DeviceUID, deviceStatus, now); err != nil {
		log.Printf("Lỗi cập nhật liveness cho thiết bị '%s': %v", device.DeviceUID, err)
	}

	var processingError error
	switch eventType {
	case domain.EventOccupancy:
		if dto.IsOccupied == nil {
			record.ProcessedStatus = "error"
			record.ProcessingNotes = "sự kiện occupancy thiếu trường is_occupied"
			processingError = fmt.Errorf("%w: occupancy thiếu is_occupied", ErrInvalidEventType)
		} else if !device.SlotID.Valid {
			record.ProcessedStatus = "skipped"
			record.ProcessingNotes = "thiết bị chưa được gán slot"
			log.Printf("Thiết bị '%s' gửi occupancy nhưng chưa gán slot. Bỏ qua.", device.DeviceUID)
		} else {
			processingError = s.reconcileSlot(ctx, int(device.SlotID.Int64), *dto.IsOccupied, record)
		}
	case domain.EventHeartbeat:
		record.ProcessedStatus = "processed"
	case domain.EventStatus:
		record.ProcessedStatus = "processed"
	case domain.EventError:
		record.ProcessedStatus = "processed"
		log.Printf("Thiết bị '%s' báo lỗi: %s", device.DeviceUID, string(dto.Raw))
	}

	s.appendAudit(ctx, record)

	if s.feed != nil {
		s.feed.BroadcastChange(domain.ChangeNotification{
			Entity: "device", Action: "updated", Timestamp: now,
			Data: map[string]interface{}{"device_uid": device.DeviceUID, "status": deviceStatus},
		})
	}
	return processingError
}

// reconcileSlot áp sự kiện occupancy lên trạng thái slot.
// is_occupied=true luôn thắng; is_occupied=false suy lại trạng thái từ
// reservation đang mở. Sự kiện cũ hơn last_event_timestamp bị bỏ qua,
// nhờ đó duplicate và out-of-order đều idempotent.
func (s *TelemetryService) reconcileSlot(ctx context.Context, slotID int, isOccupied bool, record *domain.DeviceEvent) error {
	slot, err := s.slotRepo.FindByID(ctx, slotID)
	if err != nil {
		record.ProcessedStatus = "error"
		record.ProcessingNotes = fmt.Sprintf("không tìm thấy slot %d", slotID)
		return fmt.Errorf("lỗi tìm slot %d: %w", slotID, err)
	}

	eventTime := record.EventTimestamp
	if slot.LastEventTimestamp != nil && !eventTime.After(*slot.LastEventTimestamp) {
		record.ProcessedStatus = "skipped"
		record.ProcessingNotes = fmt.Sprintf("sự kiện cũ hơn trạng thái hiện tại (DB: %v, event: %v)", slot.LastEventTimestamp, eventTime)
		log.Printf("Bỏ qua sự kiện cũ cho slot '%s' (DB: %v, event: %v)", slot.Code, slot.LastEventTimestamp, eventTime)
		return nil
	}

	var next domain.SlotStatus
	if isOccupied {
		next = domain.SlotOccupied
		if _, err := s.reservationRepo.FindOpenBySlotID(ctx, slot.ID); errors.Is(err, repository.ErrNoOpenReservation) {
			// Xe đỗ không qua reservation. Vẫn tin cảm biến, chỉ cảnh báo.
			log.Printf("CẢNH BÁO: slot '%s' báo có xe nhưng không có reservation đang mở", slot.Code)
			record.ProcessingNotes = "occupancy không khớp: không có reservation đang mở"
		}
	} else {
		switch {
		case slot.Status == domain.SlotMaintenance:
			// Telemetry không được phép gỡ maintenance do admin đặt.
			record.ProcessedStatus = "skipped"
			record.ProcessingNotes = "slot đang maintenance, bỏ qua sự kiện trống"
			return nil
		default:
			if _, err := s.reservationRepo.FindOpenBySlotID(ctx, slot.ID); err == nil {
				next = domain.SlotReserved
			} else if errors.Is(err, repository.ErrNoOpenReservation) {
				next = domain.SlotAvailable
			} else {
				record.ProcessedStatus = "error"
				record.ProcessingNotes = "lỗi kiểm tra reservation đang mở"
				return fmt.Errorf("lỗi kiểm tra reservation của slot %d: %w", slot.ID, err)
			}
		}
	}

	if next == slot.Status {
		// Vẫn ghi last_event_timestamp để chặn sự kiện cũ hơn về sau.
		if err := s.slotRepo.UpdateStatus(ctx, slot.ID, slot.Status, &eventTime, "device"); err != nil {
			record.ProcessedStatus = "error"
			return fmt.Errorf("lỗi cập nhật mốc sự kiện slot %d: %w", slot.ID, err)
		}
		record.ProcessedStatus = "processed"
		return nil
	}

	if err := s.slotRepo.UpdateStatus(ctx, slot.ID, next, &eventTime, "device"); err != nil {
		record.ProcessedStatus = "error"
		return fmt.Errorf("lỗi cập nhật trạng thái slot %d: %w", slot.ID, err)
	}
	record.ProcessedStatus = "processed"
	log.Printf("Đã cập nhật slot '%s' từ '%s' sang '%s' (nguồn: device)", slot.Code, slot.Status, next)

	if s.feed != nil {
		slot.Status = next
		slot.LastEventTimestamp = &eventTime
		slot.LastStatusUpdateSource = "device"
		s.feed.BroadcastChange(domain.ChangeNotification{
			Entity: "slot", Action: "updated", Timestamp: s.nowFn().UTC(), Data: slot,
		})
	}
	return nil
}

// HandleQueueMessage xử lý một message telemetry từ SQS. Đường này bỏ
// qua api_key vì AWS IoT đã xác thực mTLS của thiết bị trước khi message
// vào queue; chỉ cần resolve thiết bị theo uid.
func (s *TelemetryService) HandleQueueMessage(ctx context.Context, body string) error {
	var dto domain.IngestEventDTO
	if err := json.Unmarshal([]byte(body), &dto); err != nil {
		log.Printf("Lỗi unmarshal message telemetry: %v. Body: %s", err, body)
		s.appendAudit(ctx, &domain.DeviceEvent{
			Payload:         json.RawMessage(body),
			EventTimestamp:  s.nowFn().UTC(),
			ReceivedAt:      s.nowFn().UTC(),
			ProcessedStatus: "error",
			ProcessingNotes: fmt.Sprintf("unmarshal thất bại: %v", err),
		})
		return fmt.Errorf("lỗi unmarshal message telemetry: %w", err)
	}

	device, err := s.deviceRepo.FindByUID(ctx, dto.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("Message từ thiết bị chưa đăng ký '%s'. Bỏ qua.", dto.DeviceID)
			s.appendAudit(ctx, &domain.DeviceEvent{
				DeviceUID:       dto.DeviceID,
				EventType:       domain.DeviceEventType(dto.EventType),
				Payload:         dto.Raw,
				EventTimestamp:  s.nowFn().UTC(),
				ReceivedAt:      s.nowFn().UTC(),
				ProcessedStatus: "error",
				ProcessingNotes: "thiết bị chưa đăng ký",
			})
			return nil // Không retry: redeliver cũng không cứu được
		}
		return fmt.Errorf("lỗi tìm thiết bị '%s': %w", dto.DeviceID, err)
	}

	return s.IngestEvent(ctx, device, dto)
}

func (s *TelemetryService) parseEventTime(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		log.Printf("Lỗi parse timestamp '%s': %v. Sử dụng giờ server.", raw, err)
		return fallback
	}
	return parsed.UTC()
}

func (s *TelemetryService) appendAudit(ctx context.Context, record *domain.DeviceEvent) {
	if s.eventRepo == nil {
		return
	}
	if err := s.eventRepo.Create(ctx, record); err != nil {
		log.Printf("Lỗi ghi audit log sự kiện thiết bị: %v", err)
	}
}
