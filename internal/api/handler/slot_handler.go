package handler

import (
	"errors"
	"net/http"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"parking_reserve/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type SlotHandler struct {
	registryService *service.RegistryService
}

func NewSlotHandler(rs *service.RegistryService) *SlotHandler {
	return &SlotHandler{registryService: rs}
}

// POST /api/v1/slots
func (h *SlotHandler) CreateSlot(c *gin.Context) {
	var dto domain.CreateSlotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slot, err := h.registryService.CreateSlot(c.Request.Context(), dto)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể tạo chỗ đỗ xe", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, slot)
}

// GET /api/v1/slots
func (h *SlotHandler) GetAllSlots(c *gin.Context) {
	slots, err := h.registryService.GetAllSlots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy danh sách chỗ đỗ xe"})
		return
	}
	c.JSON(http.StatusOK, slots)
}

// GET /api/v1/slots/:id
func (h *SlotHandler) GetSlotByID(c *gin.Context) {
	slotID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Slot ID không hợp lệ"})
		return
	}

	slot, err := h.registryService.GetSlotByID(c.Request.Context(), slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy chỗ đỗ xe"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy thông tin chỗ đỗ xe"})
		return
	}
	c.JSON(http.StatusOK, slot)
}

// PUT /api/v1/slots/:id
func (h *SlotHandler) UpdateSlot(c *gin.Context) {
	slotID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Slot ID không hợp lệ"})
		return
	}

	var dto domain.UpdateSlotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updatedSlot, err := h.registryService.UpdateSlot(c.Request.Context(), slotID, dto)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy chỗ đỗ xe để cập nhật"})
		case errors.Is(err, repository.ErrDuplicateEntry):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidSlotStatus),
			errors.Is(err, service.ErrSlotHasOpenReservation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể cập nhật chỗ đỗ xe", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, updatedSlot)
}

// DELETE /api/v1/slots/:id
func (h *SlotHandler) DeleteSlot(c *gin.Context) {
	slotID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Slot ID không hợp lệ"})
		return
	}

	err = h.registryService.DeleteSlot(c.Request.Context(), slotID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy chỗ đỗ xe để xóa"})
		case errors.Is(err, service.ErrSlotHasOpenReservation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể xóa chỗ đỗ xe", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusNoContent, nil)
}
