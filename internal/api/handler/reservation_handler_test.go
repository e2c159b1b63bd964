package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"parking_reserve/internal/api/middleware"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"parking_reserve/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore là storage in-memory tối giản cho handler tests: đủ để chạy
// ReservationService thật phía sau router thật.
type memStore struct {
	mu           sync.Mutex
	slots        map[int]*domain.Slot
	reservations map[int]*domain.Reservation
	nextReservID int
}

func newMemStore() *memStore {
	return &memStore{
		slots:        make(map[int]*domain.Slot),
		reservations: make(map[int]*domain.Reservation),
		nextReservID: 1,
	}
}

func (s *memStore) Do(_ context.Context, fn func(repository.TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (s *memStore) Slots() repository.SlotRepository               { return (*memSlotRepo)(s) }
func (s *memStore) Reservations() repository.ReservationRepository { return (*memReservationRepo)(s) }

type memSlotRepo memStore

func (r *memSlotRepo) Create(_ context.Context, slot *domain.Slot) (*domain.Slot, error) {
	r.slots[slot.ID] = slot
	return slot, nil
}

func (r *memSlotRepo) FindByID(_ context.Context, id int) (*domain.Slot, error) {
	slot, ok := r.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *slot
	return &cp, nil
}

func (r *memSlotRepo) FindByIDForUpdate(ctx context.Context, id int) (*domain.Slot, error) {
	return r.FindByID(ctx, id)
}

func (r *memSlotRepo) FindByCode(_ context.Context, code string) (*domain.Slot, error) {
	for _, slot := range r.slots {
		if slot.Code == code {
			cp := *slot
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memSlotRepo) FindAll(_ context.Context) ([]domain.Slot, error) {
	var out []domain.Slot
	for _, slot := range r.slots {
		out = append(out, *slot)
	}
	return out, nil
}

func (r *memSlotRepo) UpdateStatus(_ context.Context, id int, status domain.SlotStatus, lastEventTime *time.Time, source string) error {
	slot, ok := r.slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	slot.Status = status
	slot.LastStatusUpdateSource = source
	if lastEventTime != nil {
		t := lastEventTime.UTC()
		slot.LastEventTimestamp = &t
	}
	return nil
}

func (r *memSlotRepo) Update(_ context.Context, slot *domain.Slot) (*domain.Slot, error) {
	r.slots[slot.ID] = slot
	return slot, nil
}

func (r *memSlotRepo) Delete(_ context.Context, id int) error {
	delete(r.slots, id)
	return nil
}

type memReservationRepo memStore

func (r *memReservationRepo) Create(_ context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	cp := *res
	cp.ID = r.nextReservID
	r.nextReservID++
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.reservations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memReservationRepo) FindByID(_ context.Context, id int) (*domain.Reservation, error) {
	res, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *memReservationRepo) FindOpenBySlotID(_ context.Context, slotID int) (*domain.Reservation, error) {
	for _, res := range r.reservations {
		if res.SlotID == slotID && res.Status.IsOpen() {
			cp := *res
			return &cp, nil
		}
	}
	return nil, repository.ErrNoOpenReservation
}

func (r *memReservationRepo) FindOpenByUserID(_ context.Context, userID int) (*domain.Reservation, error) {
	for _, res := range r.reservations {
		if res.UserID == userID && res.Status.IsOpen() {
			cp := *res
			return &cp, nil
		}
	}
	return nil, repository.ErrNoOpenReservation
}

func (r *memReservationRepo) FindByUserID(_ context.Context, userID int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, res := range r.reservations {
		if res.UserID == userID {
			out = append(out, *res)
		}
	}
	return out, nil
}

func (r *memReservationRepo) Update(_ context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	if _, ok := r.reservations[res.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	cp := *res
	r.reservations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memReservationRepo) ExpireOverdue(_ context.Context, now time.Time) ([]domain.Reservation, error) {
	var expired []domain.Reservation
	for _, res := range r.reservations {
		if res.Status == domain.ReservationActive && !res.ExpiresAt.After(now) {
			res.Status = domain.ReservationExpired
			res.EndedAt.SetValid(now)
			expired = append(expired, *res)
		}
	}
	return expired, nil
}

func (r *memReservationRepo) Find(_ context.Context, _ domain.ReservationFilterDTO) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, res := range r.reservations {
		out = append(out, *res)
	}
	return out, nil
}

type memDeviceRepo struct{}

func (memDeviceRepo) Create(context.Context, *domain.Device) (*domain.Device, error) {
	return nil, repository.ErrNotFound
}
func (memDeviceRepo) FindByID(context.Context, int) (*domain.Device, error) {
	return nil, repository.ErrNotFound
}
func (memDeviceRepo) FindByUID(context.Context, string) (*domain.Device, error) {
	return nil, repository.ErrNotFound
}
func (memDeviceRepo) FindBySlotID(context.Context, int) (*domain.Device, error) {
	return nil, repository.ErrNotFound
}
func (memDeviceRepo) FindAll(context.Context) ([]domain.Device, error) { return nil, nil }
func (memDeviceRepo) Update(context.Context, *domain.Device) (*domain.Device, error) {
	return nil, repository.ErrNotFound
}
func (memDeviceRepo) UpdateKeyHash(context.Context, int, string) error { return repository.ErrNotFound }
func (memDeviceRepo) UpdateStatus(context.Context, string, domain.DeviceStatus, time.Time) error {
	return repository.ErrNotFound
}
func (memDeviceRepo) Delete(context.Context, int) error { return repository.ErrNotFound }

// stubAuth thay Authenticate(): đặt thẳng user vào context theo header test.
func stubAuth(userID int, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.UserRoleKey, role)
		c.Set(middleware.UsernameKey, "testuser")
		c.Next()
	}
}

func newTestRouter(t *testing.T, userID int, role string) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	svc := service.NewReservationService(
		store, (*memReservationRepo)(store), (*memSlotRepo)(store), memDeviceRepo{},
		15, nil, nil, nil)

	h := NewReservationHandler(svc)
	r := gin.New()
	r.Use(stubAuth(userID, role))
	r.POST("/reservations/create", h.CreateReservation)
	r.POST("/reservations/cancel/:id", h.CancelReservation)
	r.GET("/reservations/me", h.GetMyReservations)
	r.GET("/reservations/:id", h.GetReservationByID)
	return r, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateReservationEndpoint(t *testing.T) {
	r, store := newTestRouter(t, 10, "driver")
	store.slots[1] = &domain.Slot{ID: 1, Code: "A-01", Status: domain.SlotAvailable}

	w := doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":1}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data domain.Reservation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ReservationActive, resp.Data.Status)
	assert.Equal(t, 10, resp.Data.UserID)
	require.NotNil(t, resp.Data.Slot)
	assert.Equal(t, domain.SlotReserved, resp.Data.Slot.Status)
}

func TestCreateReservationEndpoint_Conflicts(t *testing.T) {
	r, store := newTestRouter(t, 10, "driver")
	store.slots[1] = &domain.Slot{ID: 1, Code: "A-01", Status: domain.SlotAvailable}
	store.slots[2] = &domain.Slot{ID: 2, Code: "A-02", Status: domain.SlotAvailable}

	w := doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":1}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// Cùng user giữ slot khác: 409
	w = doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":2}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Slot không tồn tại: 404
	w = doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":99}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Thiếu slot_id: 400 từ binding
	w = doJSON(t, r, http.MethodPost, "/reservations/create", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateReservationEndpoint_SlotNotAvailable(t *testing.T) {
	r, store := newTestRouter(t, 10, "driver")
	store.slots[1] = &domain.Slot{ID: 1, Code: "A-01", Status: domain.SlotMaintenance}

	w := doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelReservationEndpoint(t *testing.T) {
	r, store := newTestRouter(t, 10, "driver")
	store.slots[1] = &domain.Slot{ID: 1, Code: "A-01", Status: domain.SlotAvailable}

	w := doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":1}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data domain.Reservation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/reservations/cancel/%d", resp.Data.ID), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Đã hủy reservation")

	assert.Equal(t, domain.SlotAvailable, store.slots[1].Status)

	// Hủy lần hai là no-op: vẫn 200 nhưng message nói rõ không có gì đổi
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/reservations/cancel/%d", resp.Data.ID), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "đã đóng từ trước")

	// Id không phải số: 400
	w = doJSON(t, r, http.MethodPost, "/reservations/cancel/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Không tồn tại: 404
	w = doJSON(t, r, http.MethodPost, "/reservations/cancel/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelReservationEndpoint_Forbidden(t *testing.T) {
	owner, store := newTestRouter(t, 10, "driver")
	store.slots[1] = &domain.Slot{ID: 1, Code: "A-01", Status: domain.SlotAvailable}

	w := doJSON(t, owner, http.MethodPost, "/reservations/create", `{"slot_id":1}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// User khác (không phải admin) hủy hộ: 403
	other := gin.New()
	other.Use(stubAuth(11, "driver"))
	svc := service.NewReservationService(
		store, (*memReservationRepo)(store), (*memSlotRepo)(store), memDeviceRepo{},
		15, nil, nil, nil)
	h := NewReservationHandler(svc)
	other.POST("/reservations/cancel/:id", h.CancelReservation)

	w = doJSON(t, other, http.MethodPost, "/reservations/cancel/1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateReservationEndpoint_Unauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	store.slots[1] = &domain.Slot{ID: 1, Code: "A-01", Status: domain.SlotAvailable}
	svc := service.NewReservationService(
		store, (*memReservationRepo)(store), (*memSlotRepo)(store), memDeviceRepo{},
		15, nil, nil, nil)
	h := NewReservationHandler(svc)

	// Middleware thật, không stub: request thiếu token phải chặn từ đây
	authMw := middleware.NewAuthMiddleware(service.NewAuthService(nil, "test-secret", time.Hour))
	r := gin.New()
	r.POST("/reservations/create", authMw.Authenticate(), h.CreateReservation)

	// Không có Authorization header
	w := doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":1}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// Token rác
	req := httptest.NewRequest(http.MethodPost, "/reservations/create", strings.NewReader(`{"slot_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer khong-phai-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// Không có state nào bị thay đổi
	assert.Empty(t, store.reservations)
	assert.Equal(t, domain.SlotAvailable, store.slots[1].Status)
}

func TestGetMyReservationsEndpoint(t *testing.T) {
	r, store := newTestRouter(t, 10, "driver")
	store.slots[1] = &domain.Slot{ID: 1, Code: "A-01", Status: domain.SlotAvailable}

	w := doJSON(t, r, http.MethodPost, "/reservations/create", `{"slot_id":1}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/reservations/me", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []domain.Reservation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
}
