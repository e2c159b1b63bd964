package service

import (
	"context"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"sync"
	"time"
)

// In-memory fakes cho service tests. Không mô phỏng row lock; fakeTxManager
// serialize toàn bộ transaction bằng một mutex nên bất biến "mỗi slot và
// mỗi user tối đa một reservation open" vẫn được kiểm tra đúng.

type fakeSlotRepo struct {
	mu     sync.Mutex
	nextID int
	slots  map[int]*domain.Slot
}

func newFakeSlotRepo() *fakeSlotRepo {
	return &fakeSlotRepo{nextID: 1, slots: make(map[int]*domain.Slot)}
}

func (r *fakeSlotRepo) add(slot *domain.Slot) *domain.Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot.ID == 0 {
		slot.ID = r.nextID
		r.nextID++
	} else if slot.ID >= r.nextID {
		r.nextID = slot.ID + 1
	}
	cp := *slot
	r.slots[cp.ID] = &cp
	return slot
}

func (r *fakeSlotRepo) Create(_ context.Context, slot *domain.Slot) (*domain.Slot, error) {
	r.mu.Lock()
	for _, s := range r.slots {
		if s.Code == slot.Code {
			r.mu.Unlock()
			return nil, repository.ErrDuplicateEntry
		}
	}
	r.mu.Unlock()
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	return r.add(slot), nil
}

func (r *fakeSlotRepo) FindByID(_ context.Context, id int) (*domain.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSlotRepo) FindByIDForUpdate(ctx context.Context, id int) (*domain.Slot, error) {
	return r.FindByID(ctx, id)
}

func (r *fakeSlotRepo) FindByCode(_ context.Context, code string) (*domain.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.Code == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeSlotRepo) FindAll(_ context.Context) ([]domain.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Slot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeSlotRepo) UpdateStatus(_ context.Context, id int, status domain.SlotStatus, lastEventTime *time.Time, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	s.LastStatusUpdateSource = source
	if lastEventTime != nil {
		t := lastEventTime.UTC()
		s.LastEventTimestamp = &t
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeSlotRepo) Update(_ context.Context, slot *domain.Slot) (*domain.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[slot.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	cp := *slot
	cp.UpdatedAt = time.Now().UTC()
	r.slots[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeSlotRepo) Delete(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.slots, id)
	return nil
}

type fakeReservationRepo struct {
	mu           sync.Mutex
	nextID       int
	reservations map[int]*domain.Reservation
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{nextID: 1, reservations: make(map[int]*domain.Reservation)}
}

func (r *fakeReservationRepo) Create(_ context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mô phỏng partial unique index trên (slot_id) và (user_id) khi active
	if res.Status.IsOpen() {
		for _, existing := range r.reservations {
			if !existing.Status.IsOpen() {
				continue
			}
			if existing.SlotID == res.SlotID || existing.UserID == res.UserID {
				return nil, repository.ErrDuplicateEntry
			}
		}
	}
	now := time.Now().UTC()
	cp := *res
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.reservations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeReservationRepo) FindByID(_ context.Context, id int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *fakeReservationRepo) FindOpenBySlotID(_ context.Context, slotID int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.reservations {
		if res.SlotID == slotID && res.Status.IsOpen() {
			cp := *res
			return &cp, nil
		}
	}
	return nil, repository.ErrNoOpenReservation
}

func (r *fakeReservationRepo) FindOpenByUserID(_ context.Context, userID int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.reservations {
		if res.UserID == userID && res.Status.IsOpen() {
			cp := *res
			return &cp, nil
		}
	}
	return nil, repository.ErrNoOpenReservation
}

func (r *fakeReservationRepo) FindByUserID(_ context.Context, userID int) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Reservation
	for _, res := range r.reservations {
		if res.UserID == userID {
			out = append(out, *res)
		}
	}
	return out, nil
}

func (r *fakeReservationRepo) Update(_ context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[res.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	cp := *res
	cp.UpdatedAt = time.Now().UTC()
	r.reservations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeReservationRepo) ExpireOverdue(_ context.Context, now time.Time) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []domain.Reservation
	for _, res := range r.reservations {
		if res.Status == domain.ReservationActive && !res.ExpiresAt.After(now) {
			res.Status = domain.ReservationExpired
			res.EndedAt.SetValid(now)
			res.UpdatedAt = now
			expired = append(expired, *res)
		}
	}
	return expired, nil
}

func (r *fakeReservationRepo) Find(_ context.Context, filter domain.ReservationFilterDTO) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Reservation
	for _, res := range r.reservations {
		if filter.Status != nil && string(res.Status) != *filter.Status {
			continue
		}
		if filter.SlotID != nil && res.SlotID != *filter.SlotID {
			continue
		}
		out = append(out, *res)
	}
	return out, nil
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	nextID  int
	devices map[int]*domain.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{nextID: 1, devices: make(map[int]*domain.Device)}
}

func (r *fakeDeviceRepo) Create(_ context.Context, device *domain.Device) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DeviceUID == device.DeviceUID {
			return nil, repository.ErrDuplicateEntry
		}
		if device.SlotID.Valid && d.SlotID.Valid && d.SlotID.Int64 == device.SlotID.Int64 {
			return nil, repository.ErrDuplicateEntry
		}
	}
	now := time.Now().UTC()
	cp := *device
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.devices[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeDeviceRepo) FindByID(_ context.Context, id int) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDeviceRepo) FindByUID(_ context.Context, deviceUID string) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DeviceUID == deviceUID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeDeviceRepo) FindBySlotID(_ context.Context, slotID int) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.SlotID.Valid && int(d.SlotID.Int64) == slotID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeDeviceRepo) FindAll(_ context.Context) ([]domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (r *fakeDeviceRepo) Update(_ context.Context, device *domain.Device) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[device.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	cp := *device
	cp.UpdatedAt = time.Now().UTC()
	r.devices[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeDeviceRepo) UpdateKeyHash(_ context.Context, id int, keyHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.APIKeyHash = keyHash
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeDeviceRepo) UpdateStatus(_ context.Context, deviceUID string, status domain.DeviceStatus, lastSeenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DeviceUID == deviceUID {
			d.Status = status
			d.LastSeenAt.SetValid(lastSeenAt)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeDeviceRepo) Delete(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.devices, id)
	return nil
}

type fakeDeviceEventRepo struct {
	mu     sync.Mutex
	nextID int64
	events []domain.DeviceEvent
}

func newFakeDeviceEventRepo() *fakeDeviceEventRepo {
	return &fakeDeviceEventRepo{nextID: 1}
}

func (r *fakeDeviceEventRepo) Create(_ context.Context, event *domain.DeviceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = r.nextID
	r.nextID++
	r.events = append(r.events, *event)
	return nil
}

func (r *fakeDeviceEventRepo) FindRecentByDeviceID(_ context.Context, deviceID int, limit int) ([]domain.DeviceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []domain.DeviceEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].DeviceID == deviceID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

// fakeTxManager chạy fn trực tiếp trên các repo gốc dưới một mutex.
type fakeTxManager struct {
	mu              sync.Mutex
	slotRepo        repository.SlotRepository
	reservationRepo repository.ReservationRepository
}

func newFakeTxManager(slotRepo repository.SlotRepository, reservationRepo repository.ReservationRepository) *fakeTxManager {
	return &fakeTxManager{slotRepo: slotRepo, reservationRepo: reservationRepo}
}

func (m *fakeTxManager) Do(_ context.Context, fn func(repository.TxRepos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *fakeTxManager) Slots() repository.SlotRepository               { return m.slotRepo }
func (m *fakeTxManager) Reservations() repository.ReservationRepository { return m.reservationRepo }

// recordingFeed ghi lại mọi change notification đã broadcast.
type recordingFeed struct {
	mu      sync.Mutex
	changes []domain.ChangeNotification
}

func (f *recordingFeed) BroadcastChange(n domain.ChangeNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, n)
}

func (f *recordingFeed) byEntity(entity string) []domain.ChangeNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChangeNotification
	for _, n := range f.changes {
		if n.Entity == entity {
			out = append(out, n)
		}
	}
	return out
}

// recordingDispatcher ghi lại mọi notification đã dispatch.
type recordingDispatcher struct {
	mu            sync.Mutex
	notifications []domain.ReservationNotification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n domain.ReservationNotification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, n)
}

func (d *recordingDispatcher) all() []domain.ReservationNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.ReservationNotification, len(d.notifications))
	copy(out, d.notifications)
	return out
}
