package handler

import (
	"errors"
	"net/http"
	"parking_reserve/internal/api/middleware"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"parking_reserve/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ReservationHandler struct {
	reservationService *service.ReservationService
}

func NewReservationHandler(rs *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservationService: rs}
}

// POST /reservations/create
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Thiếu thông tin người dùng"})
		return
	}

	var dto domain.CreateReservationDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.reservationService.CreateReservation(c.Request.Context(), userID, dto)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy chỗ đỗ xe"})
		case errors.Is(err, service.ErrInvalidDuration):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrSlotNotAvailable):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrUserHasOpenReservation),
			errors.Is(err, service.ErrSlotAlreadyReserved),
			errors.Is(err, repository.ErrDuplicateEntry):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể tạo reservation", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": res})
}

// POST /reservations/cancel/:id
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Thiếu thông tin người dùng"})
		return
	}

	reservationID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Reservation ID không hợp lệ"})
		return
	}

	res, alreadyClosed, err := h.reservationService.CancelReservation(c.Request.Context(), userID, role, reservationID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy reservation"})
		case errors.Is(err, service.ErrNotReservationOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể hủy reservation", "details": err.Error()})
		}
		return
	}
	if alreadyClosed {
		c.JSON(http.StatusOK, gin.H{"message": "Reservation đã đóng từ trước, không có gì thay đổi", "data": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Đã hủy reservation", "data": res})
}

// GET /reservations/me
func (h *ReservationHandler) GetMyReservations(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Thiếu thông tin người dùng"})
		return
	}

	reservations, err := h.reservationService.GetReservationsByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy danh sách reservation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reservations})
}

// GET /reservations/:id
func (h *ReservationHandler) GetReservationByID(c *gin.Context) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Thiếu thông tin người dùng"})
		return
	}

	reservationID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Reservation ID không hợp lệ"})
		return
	}

	res, err := h.reservationService.GetReservationByID(c.Request.Context(), userID, role, reservationID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy reservation"})
		case errors.Is(err, service.ErrNotReservationOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy thông tin reservation"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

// POST /api/v1/reservations/expire (admin, kích hoạt quét thủ công)
func (h *ReservationHandler) ExpireOverdue(c *gin.Context) {
	expired, err := h.reservationService.ExpireOverdue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi quét reservation quá hạn", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Quét hoàn tất", "data": expired, "count": len(expired)})
}
