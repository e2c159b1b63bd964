package handler

import (
	"errors"
	"net/http"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/service"

	"github.com/gin-gonic/gin"
)

// IngestHandler nhận telemetry HTTP trực tiếp từ thiết bị (không qua JWT,
// xác thực bằng api_key của thiết bị).
type IngestHandler struct {
	telemetryService *service.TelemetryService
}

func NewIngestHandler(ts *service.TelemetryService) *IngestHandler {
	return &IngestHandler{telemetryService: ts}
}

// POST /devices/ingest
func (h *IngestHandler) IngestEvent(c *gin.Context) {
	var dto domain.IngestEventDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if dto.APIKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Thiếu api_key"})
		return
	}

	device, err := h.telemetryService.VerifyDevice(c.Request.Context(), dto.DeviceID, dto.APIKey)
	if err != nil {
		if errors.Is(err, service.ErrDeviceAuth) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Thiết bị hoặc api_key không hợp lệ"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi xác thực thiết bị"})
		return
	}

	if err := h.telemetryService.IngestEvent(c.Request.Context(), device, dto); err != nil {
		if errors.Is(err, service.ErrInvalidEventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể xử lý sự kiện", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
