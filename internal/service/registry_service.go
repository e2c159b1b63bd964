package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/guregu/null.v4"
)

var ErrInvalidSlotStatus = errors.New("trạng thái slot không hợp lệ cho thao tác admin")
var ErrSlotHasOpenReservation = errors.New("slot đang có reservation mở")

// RegistryService quản lý danh mục slot và thiết bị cho admin. Trạng thái
// slot thuộc về engine và reconciler; admin chỉ được bật/tắt maintenance
// khi slot không có reservation mở.
type RegistryService struct {
	slotRepo        repository.SlotRepository
	deviceRepo      repository.DeviceRepository
	reservationRepo repository.ReservationRepository
	eventRepo       repository.DeviceEventRepository
	feed            ChangeFeed
	nowFn           func() time.Time
}

func NewRegistryService(
	slotRepo repository.SlotRepository,
	deviceRepo repository.DeviceRepository,
	reservationRepo repository.ReservationRepository,
	eventRepo repository.DeviceEventRepository,
	feed ChangeFeed,
) *RegistryService {
	return &RegistryService{
		slotRepo:        slotRepo,
		deviceRepo:      deviceRepo,
		reservationRepo: reservationRepo,
		eventRepo:       eventRepo,
		feed:            feed,
		nowFn:           time.Now,
	}
}

// --- Slot registry ---

func (s *RegistryService) CreateSlot(ctx context.Context, dto domain.CreateSlotDTO) (*domain.Slot, error) {
	slot := &domain.Slot{
		Code:                   dto.Code,
		Zone:                   dto.Zone,
		Status:                 domain.SlotAvailable,
		LastStatusUpdateSource: "admin_creation",
	}
	created, err := s.slotRepo.Create(ctx, slot)
	if err != nil {
		return nil, err
	}
	s.broadcast("slot", "created", created)
	return created, nil
}

func (s *RegistryService) GetSlotByID(ctx context.Context, id int) (*domain.Slot, error) {
	return s.slotRepo.FindByID(ctx, id)
}

func (s *RegistryService) GetAllSlots(ctx context.Context) ([]domain.Slot, error) {
	return s.slotRepo.FindAll(ctx)
}

func (s *RegistryService) UpdateSlot(ctx context.Context, id int, dto domain.UpdateSlotDTO) (*domain.Slot, error) {
	slot, err := s.slotRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if dto.Code != "" {
		slot.Code = dto.Code
	}
	if dto.Zone != "" {
		slot.Zone = dto.Zone
	}
	if dto.Status != "" {
		newStatus := domain.SlotStatus(dto.Status)
		if newStatus != domain.SlotMaintenance && newStatus != domain.SlotAvailable {
			return nil, fmt.Errorf("%w: admin chỉ được đặt 'maintenance' hoặc 'available', nhận '%s'", ErrInvalidSlotStatus, dto.Status)
		}
		if newStatus != slot.Status {
			if _, err := s.reservationRepo.FindOpenBySlotID(ctx, slot.ID); err == nil {
				return nil, fmt.Errorf("%w: không thể đổi trạng thái slot '%s'", ErrSlotHasOpenReservation, slot.Code)
			} else if !errors.Is(err, repository.ErrNoOpenReservation) {
				return nil, fmt.Errorf("lỗi kiểm tra reservation của slot: %w", err)
			}
			slot.Status = newStatus
			slot.LastStatusUpdateSource = "admin"
		}
	}

	updated, err := s.slotRepo.Update(ctx, slot)
	if err != nil {
		return nil, err
	}
	s.broadcast("slot", "updated", updated)
	return updated, nil
}

func (s *RegistryService) DeleteSlot(ctx context.Context, id int) error {
	if _, err := s.reservationRepo.FindOpenBySlotID(ctx, id); err == nil {
		return fmt.Errorf("%w: không thể xóa slot %d", ErrSlotHasOpenReservation, id)
	} else if !errors.Is(err, repository.ErrNoOpenReservation) {
		return fmt.Errorf("lỗi kiểm tra reservation của slot: %w", err)
	}
	return s.slotRepo.Delete(ctx, id)
}

// --- Device registry ---

// CreateDevice đăng ký thiết bị mới và sinh api key. Plaintext key chỉ
// xuất hiện trong DTO trả về, không log, không lưu.
func (s *RegistryService) CreateDevice(ctx context.Context, dto domain.CreateDeviceDTO) (*domain.Device, *domain.DeviceKeyDTO, error) {
	apiKey, keyHash, err := s.generateAPIKey()
	if err != nil {
		return nil, nil, err
	}

	device := &domain.Device{
		DeviceUID:       dto.DeviceUID,
		Name:            dto.Name,
		APIKeyHash:      keyHash,
		FirmwareVersion: dto.FirmwareVersion,
		Status:          domain.DeviceUnknown,
	}
	if dto.SlotID != nil {
		if _, err := s.slotRepo.FindByID(ctx, *dto.SlotID); err != nil {
			return nil, nil, fmt.Errorf("lỗi kiểm tra slot %d: %w", *dto.SlotID, err)
		}
		device.SlotID = null.IntFrom(int64(*dto.SlotID))
	}

	created, err := s.deviceRepo.Create(ctx, device)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Đã đăng ký thiết bị '%s' (ID %d)", created.DeviceUID, created.ID)
	s.broadcast("device", "created", created)

	return created, &domain.DeviceKeyDTO{
		DeviceID:  created.ID,
		DeviceUID: created.DeviceUID,
		APIKey:    apiKey,
	}, nil
}

func (s *RegistryService) GetDeviceByID(ctx context.Context, id int) (*domain.Device, error) {
	return s.deviceRepo.FindByID(ctx, id)
}

func (s *RegistryService) GetAllDevices(ctx context.Context) ([]domain.Device, error) {
	return s.deviceRepo.FindAll(ctx)
}

func (s *RegistryService) UpdateDevice(ctx context.Context, id int, dto domain.UpdateDeviceDTO) (*domain.Device, error) {
	device, err := s.deviceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dto.Name != "" {
		device.Name = dto.Name
	}
	if dto.FirmwareVersion != "" {
		device.FirmwareVersion = dto.FirmwareVersion
	}
	if dto.Status != "" {
		if !domain.DeviceStatus(dto.Status).Valid() {
			return nil, fmt.Errorf("trạng thái thiết bị không hợp lệ: %s", dto.Status)
		}
		device.Status = domain.DeviceStatus(dto.Status)
	}

	updated, err := s.deviceRepo.Update(ctx, device)
	if err != nil {
		return nil, err
	}
	s.broadcast("device", "updated", updated)
	return updated, nil
}

func (s *RegistryService) DeleteDevice(ctx context.Context, id int) error {
	return s.deviceRepo.Delete(ctx, id)
}

// RotateDeviceKey sinh key mới, thay hash cũ ngay lập tức. Key cũ mất
// hiệu lực từ thời điểm này.
func (s *RegistryService) RotateDeviceKey(ctx context.Context, id int) (*domain.DeviceKeyDTO, error) {
	device, err := s.deviceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	apiKey, keyHash, err := s.generateAPIKey()
	if err != nil {
		return nil, err
	}
	if err := s.deviceRepo.UpdateKeyHash(ctx, device.ID, keyHash); err != nil {
		return nil, err
	}
	log.Printf("Đã rotate api key cho thiết bị '%s' (ID %d)", device.DeviceUID, device.ID)

	return &domain.DeviceKeyDTO{
		DeviceID:  device.ID,
		DeviceUID: device.DeviceUID,
		APIKey:    apiKey,
	}, nil
}

func (s *RegistryService) LinkSlot(ctx context.Context, deviceID int, dto domain.LinkSlotDTO) (*domain.Device, error) {
	device, err := s.deviceRepo.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.slotRepo.FindByID(ctx, dto.SlotID); err != nil {
		return nil, fmt.Errorf("lỗi kiểm tra slot %d: %w", dto.SlotID, err)
	}
	device.SlotID = null.IntFrom(int64(dto.SlotID))

	updated, err := s.deviceRepo.Update(ctx, device)
	if err != nil {
		return nil, err
	}
	s.broadcast("device", "updated", updated)
	return updated, nil
}

func (s *RegistryService) GetDeviceEvents(ctx context.Context, deviceID int, limit int) ([]domain.DeviceEvent, error) {
	if _, err := s.deviceRepo.FindByID(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.eventRepo.FindRecentByDeviceID(ctx, deviceID, limit)
}

func (s *RegistryService) generateAPIKey() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("lỗi sinh api key: %w", err)
	}
	apiKey := hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("lỗi hash api key: %w", err)
	}
	return apiKey, string(hash), nil
}

func (s *RegistryService) broadcast(entity string, action string, data interface{}) {
	if s.feed == nil {
		return
	}
	s.feed.BroadcastChange(domain.ChangeNotification{
		Entity:    entity,
		Action:    action,
		Timestamp: s.nowFn().UTC(),
		Data:      data,
	})
}
