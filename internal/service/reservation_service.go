package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"
)

var ErrInvalidDuration = errors.New("thời lượng giữ chỗ không hợp lệ")
var ErrUserHasOpenReservation = errors.New("người dùng đã có reservation đang mở")
var ErrSlotAlreadyReserved = errors.New("slot đã có reservation đang mở")
var ErrSlotNotAvailable = errors.New("slot không ở trạng thái available")
var ErrNotReservationOwner = errors.New("reservation không thuộc về người dùng này")

const maxReservationMinutes = 24 * 60

// ReservationService là engine vòng đời reservation. Mọi thao tác ghi
// chạy trong một transaction qua TxManager; row slot bị khóa FOR UPDATE
// nên hai request tranh nhau một slot sẽ tuần tự hóa tại đó.
type ReservationService struct {
	txManager       repository.TxManager
	reservationRepo repository.ReservationRepository
	slotRepo        repository.SlotRepository
	deviceRepo      repository.DeviceRepository

	dispatcher   Dispatcher
	feed         ChangeFeed
	cmdPublisher SlotCommandPublisher

	defaultTTL time.Duration
	nowFn      func() time.Time
}

func NewReservationService(
	txManager repository.TxManager,
	reservationRepo repository.ReservationRepository,
	slotRepo repository.SlotRepository,
	deviceRepo repository.DeviceRepository,
	defaultTTLMinutes int,
	dispatcher Dispatcher,
	feed ChangeFeed,
	cmdPublisher SlotCommandPublisher,
) *ReservationService {
	if defaultTTLMinutes <= 0 {
		defaultTTLMinutes = 15
	}
	return &ReservationService{
		txManager:       txManager,
		reservationRepo: reservationRepo,
		slotRepo:        slotRepo,
		deviceRepo:      deviceRepo,
		dispatcher:      dispatcher,
		feed:            feed,
		cmdPublisher:    cmdPublisher,
		defaultTTL:      time.Duration(defaultTTLMinutes) * time.Minute,
		nowFn:           time.Now,
	}
}

func (s *ReservationService) CreateReservation(ctx context.Context, userID int, dto domain.CreateReservationDTO) (*domain.Reservation, error) {
	ttl := s.defaultTTL
	if dto.ExpiresInMinutes != 0 {
		if dto.ExpiresInMinutes < 1 || dto.ExpiresInMinutes > maxReservationMinutes {
			return nil, fmt.Errorf("%w: expires_in_minutes phải nằm trong [1, %d]", ErrInvalidDuration, maxReservationMinutes)
		}
		ttl = time.Duration(dto.ExpiresInMinutes) * time.Minute
	}

	var created *domain.Reservation
	var slot *domain.Slot

	err := s.txManager.Do(ctx, func(txr repository.TxRepos) error {
		// Kiểm tra user trước khi đụng tới slot: user đang giữ chỗ thì bị
		// từ chối vì conflict, kể cả khi slot id gửi lên không tồn tại.
		if _, err := txr.Reservations().FindOpenByUserID(ctx, userID); err == nil {
			return fmt.Errorf("%w: user %d", ErrUserHasOpenReservation, userID)
		} else if !errors.Is(err, repository.ErrNoOpenReservation) {
			return fmt.Errorf("lỗi kiểm tra reservation của user: %w", err)
		}

		var err error
		slot, err = txr.Slots().FindByIDForUpdate(ctx, dto.SlotID)
		if err != nil {
			return err
		}

		if _, err := txr.Reservations().FindOpenBySlotID(ctx, dto.SlotID); err == nil {
			return fmt.Errorf("%w: slot '%s'", ErrSlotAlreadyReserved, slot.Code)
		} else if !errors.Is(err, repository.ErrNoOpenReservation) {
			return fmt.Errorf("lỗi kiểm tra reservation của slot: %w", err)
		}

		if slot.Status != domain.SlotAvailable {
			return fmt.Errorf("%w: slot '%s' đang ở trạng thái '%s'", ErrSlotNotAvailable, slot.Code, slot.Status)
		}

		now := s.nowFn().UTC()
		res := &domain.Reservation{
			UserID:     userID,
			SlotID:     slot.ID,
			Status:     domain.ReservationActive,
			ReservedAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		created, err = txr.Reservations().Create(ctx, res)
		if err != nil {
			return err
		}

		if err := txr.Slots().UpdateStatus(ctx, slot.ID, domain.SlotReserved, &now, "reservation_create"); err != nil {
			return fmt.Errorf("lỗi cập nhật trạng thái slot: %w", err)
		}
		slot.Status = domain.SlotReserved
		slot.LastStatusUpdateSource = "reservation_create"
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Đã tạo reservation ID %d cho user %d trên slot '%s' (hết hạn %s)",
		created.ID, userID, slot.Code, created.ExpiresAt.Format(time.RFC3339))
	s.afterCommit(ctx, "reservation.created", created, slot)
	created.Slot = slot
	return created, nil
}

// CancelReservation đóng một reservation đang mở. Giá trị bool trả về
// cho biết reservation đã đóng từ trước (no-op, không có gì thay đổi).
func (s *ReservationService) CancelReservation(ctx context.Context, userID int, role string, reservationID int) (*domain.Reservation, bool, error) {
	var cancelled *domain.Reservation
	var slot *domain.Slot
	alreadyClosed := false

	err := s.txManager.Do(ctx, func(txr repository.TxRepos) error {
		res, err := txr.Reservations().FindByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.UserID != userID && role != "admin" {
			return fmt.Errorf("%w: reservation %d", ErrNotReservationOwner, reservationID)
		}

		// Hủy một reservation đã đóng là no-op, trả lại bản ghi hiện tại.
		if !res.Status.IsOpen() {
			cancelled = res
			alreadyClosed = true
			return nil
		}

		now := s.nowFn().UTC()
		res.Status = domain.ReservationCancelled
		res.CancelledAt = null.TimeFrom(now)
		res.EndedAt = null.TimeFrom(now)
		cancelled, err = txr.Reservations().Update(ctx, res)
		if err != nil {
			return err
		}

		sl, err := txr.Slots().FindByIDForUpdate(ctx, res.SlotID)
		if err != nil {
			return err
		}
		// Chỉ nhả reserved -> available. Nếu telemetry đã đánh dấu
		// occupied hay admin đã bật maintenance thì giữ nguyên.
		if sl.Status == domain.SlotReserved {
			if err := txr.Slots().UpdateStatus(ctx, sl.ID, domain.SlotAvailable, &now, "reservation_cancel"); err != nil {
				return fmt.Errorf("lỗi nhả slot: %w", err)
			}
			sl.Status = domain.SlotAvailable
			sl.LastStatusUpdateSource = "reservation_cancel"
		}
		slot = sl
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if alreadyClosed {
		log.Printf("Reservation %d đã đóng từ trước (status '%s'), bỏ qua hủy.", cancelled.ID, cancelled.Status)
		return cancelled, true, nil
	}

	log.Printf("Đã hủy reservation ID %d (user %d)", cancelled.ID, cancelled.UserID)
	s.afterCommit(ctx, "reservation.cancelled", cancelled, slot)
	return cancelled, false, nil
}

// ExpireOverdue quét mọi reservation active quá hạn, chuyển sang expired
// và nhả slot tương ứng. Idempotent: chạy lại không expire trùng.
func (s *ReservationService) ExpireOverdue(ctx context.Context) ([]domain.Reservation, error) {
	var expired []domain.Reservation
	slots := make(map[int]*domain.Slot)

	err := s.txManager.Do(ctx, func(txr repository.TxRepos) error {
		now := s.nowFn().UTC()
		var err error
		expired, err = txr.Reservations().ExpireOverdue(ctx, now)
		if err != nil {
			return err
		}
		for i := range expired {
			sl, err := txr.Slots().FindByIDForUpdate(ctx, expired[i].SlotID)
			if err != nil {
				return err
			}
			if sl.Status == domain.SlotReserved {
				if err := txr.Slots().UpdateStatus(ctx, sl.ID, domain.SlotAvailable, &now, "reservation_expire"); err != nil {
					return fmt.Errorf("lỗi nhả slot %d: %w", sl.ID, err)
				}
				sl.Status = domain.SlotAvailable
				sl.LastStatusUpdateSource = "reservation_expire"
			}
			slots[expired[i].ID] = sl
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range expired {
		s.afterCommit(ctx, "reservation.expired", &expired[i], slots[expired[i].ID])
	}
	return expired, nil
}

func (s *ReservationService) GetReservationByID(ctx context.Context, userID int, role string, reservationID int) (*domain.Reservation, error) {
	res, err := s.reservationRepo.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID && role != "admin" {
		return nil, fmt.Errorf("%w: reservation %d", ErrNotReservationOwner, reservationID)
	}
	return res, nil
}

func (s *ReservationService) GetReservationsByUser(ctx context.Context, userID int) ([]domain.Reservation, error) {
	return s.reservationRepo.FindByUserID(ctx, userID)
}

// afterCommit chạy các hook sau khi transaction đã commit. Hook nào lỗi
// chỉ log, không ảnh hưởng kết quả đã trả về cho client.
func (s *ReservationService) afterCommit(ctx context.Context, eventType string, res *domain.Reservation, slot *domain.Slot) {
	if s.dispatcher != nil {
		n := domain.ReservationNotification{
			NotificationID: uuid.NewString(),
			Type:           eventType,
			ReservationID:  res.ID,
			UserID:         res.UserID,
			SlotID:         res.SlotID,
			OccurredAt:     s.nowFn().UTC(),
		}
		if slot != nil {
			n.SlotCode = slot.Code
		}
		s.dispatcher.Dispatch(ctx, n)
	}

	if s.feed != nil {
		now := s.nowFn().UTC()
		action := "updated"
		switch eventType {
		case "reservation.created":
			action = "created"
		case "reservation.cancelled":
			action = "cancelled"
		case "reservation.expired":
			action = "expired"
		}
		s.feed.BroadcastChange(domain.ChangeNotification{Entity: "reservation", Action: action, Timestamp: now, Data: res})
		if slot != nil {
			s.feed.BroadcastChange(domain.ChangeNotification{Entity: "slot", Action: "updated", Timestamp: now, Data: slot})
		}
	}

	if s.cmdPublisher != nil && slot != nil {
		device, err := s.deviceRepo.FindBySlotID(ctx, slot.ID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				log.Printf("Lỗi tìm thiết bị của slot %d: %v", slot.ID, err)
			}
			return
		}
		if err := s.cmdPublisher.PublishSlotDisplay(ctx, device.DeviceUID, slot.Status, uuid.NewString()); err != nil {
			log.Printf("Lỗi publish lệnh hiển thị cho thiết bị '%s': %v", device.DeviceUID, err)
		}
	}
}
