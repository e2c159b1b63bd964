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

type DeviceHandler struct {
	registryService *service.RegistryService
}

func NewDeviceHandler(rs *service.RegistryService) *DeviceHandler {
	return &DeviceHandler{registryService: rs}
}

// POST /api/v1/devices
func (h *DeviceHandler) CreateDevice(c *gin.Context) {
	var dto domain.CreateDeviceDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, key, err := h.registryService.CreateDevice(c.Request.Context(), dto)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEntry):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy slot để gán"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể đăng ký thiết bị", "details": err.Error()})
		}
		return
	}
	// api_key chỉ xuất hiện duy nhất trong response này
	c.JSON(http.StatusCreated, gin.H{"data": device, "credentials": key})
}

// GET /api/v1/devices
func (h *DeviceHandler) GetAllDevices(c *gin.Context) {
	devices, err := h.registryService.GetAllDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy danh sách thiết bị"})
		return
	}
	c.JSON(http.StatusOK, devices)
}

// GET /api/v1/devices/:id
func (h *DeviceHandler) GetDeviceByID(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device ID không hợp lệ"})
		return
	}

	device, err := h.registryService.GetDeviceByID(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy thiết bị"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy thông tin thiết bị"})
		return
	}
	c.JSON(http.StatusOK, device)
}

// PUT /api/v1/devices/:id
func (h *DeviceHandler) UpdateDevice(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device ID không hợp lệ"})
		return
	}

	var dto domain.UpdateDeviceDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.registryService.UpdateDevice(c.Request.Context(), deviceID, dto)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy thiết bị để cập nhật"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể cập nhật thiết bị", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, device)
}

// DELETE /api/v1/devices/:id
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device ID không hợp lệ"})
		return
	}

	err = h.registryService.DeleteDevice(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy thiết bị để xóa"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể xóa thiết bị", "details": err.Error()})
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

// POST /api/v1/devices/:id/rotate-key
func (h *DeviceHandler) RotateDeviceKey(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device ID không hợp lệ"})
		return
	}

	key, err := h.registryService.RotateDeviceKey(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy thiết bị"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể rotate api key", "details": err.Error()})
		return
	}
	// Key cũ mất hiệu lực ngay; plaintext key mới chỉ trả về một lần
	c.JSON(http.StatusOK, gin.H{"data": key})
}

// POST /api/v1/devices/:id/link-slot
func (h *DeviceHandler) LinkSlot(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device ID không hợp lệ"})
		return
	}

	var dto domain.LinkSlotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.registryService.LinkSlot(c.Request.Context(), deviceID, dto)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy thiết bị hoặc slot"})
		case errors.Is(err, repository.ErrDuplicateEntry):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể gán slot cho thiết bị", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, device)
}

// GET /api/v1/devices/:id/events
func (h *DeviceHandler) GetDeviceEvents(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device ID không hợp lệ"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	events, err := h.registryService.GetDeviceEvents(c.Request.Context(), deviceID, limit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy thiết bị"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy lịch sử sự kiện"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}
