package api

import (
	"parking_reserve/internal/api/handler"
	"parking_reserve/internal/api/middleware"
	"parking_reserve/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(
	as *service.AuthService,
	rs *service.ReservationService,
	regs *service.RegistryService,
	ts *service.TelemetryService,
	authMw *middleware.AuthMiddleware,
	wsManager *handler.WebSocketManager,
) *gin.Engine {
	r := gin.Default()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// WebSocket endpoint (không cần auth cho real-time connection)
	wsHandler := handler.NewWebSocketHandler(wsManager)
	r.GET("/ws", wsHandler.HandleWebSocket)

	authHandler := handler.NewAuthHandler(as)
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	// Telemetry từ thiết bị: xác thực bằng api_key, không dùng JWT
	ingestHandler := handler.NewIngestHandler(ts)
	r.POST("/devices/ingest", ingestHandler.IngestEvent)

	reservationHandler := handler.NewReservationHandler(rs)
	reservationRoutes := r.Group("/reservations")
	reservationRoutes.Use(authMw.Authenticate())
	{
		reservationRoutes.POST("/create", reservationHandler.CreateReservation)
		reservationRoutes.POST("/cancel/:id", reservationHandler.CancelReservation)
		reservationRoutes.GET("/me", reservationHandler.GetMyReservations)
		reservationRoutes.GET("/:id", reservationHandler.GetReservationByID)
	}

	v1 := r.Group("/api/v1")
	v1.Use(authMw.Authenticate())
	{
		slotHandler := handler.NewSlotHandler(regs)
		slotRoutes := v1.Group("/slots")
		{
			slotRoutes.POST("", authMw.AuthorizeRole("admin"), slotHandler.CreateSlot)
			slotRoutes.GET("", slotHandler.GetAllSlots)
			slotRoutes.GET("/:id", slotHandler.GetSlotByID)
			slotRoutes.PUT("/:id", authMw.AuthorizeRole("admin"), slotHandler.UpdateSlot)
			slotRoutes.DELETE("/:id", authMw.AuthorizeRole("admin"), slotHandler.DeleteSlot)
		}

		// Device registry: chỉ admin được quản lý thiết bị
		deviceHandler := handler.NewDeviceHandler(regs)
		deviceRoutes := v1.Group("/devices")
		deviceRoutes.Use(authMw.AuthorizeRole("admin"))
		{
			deviceRoutes.POST("", deviceHandler.CreateDevice)
			deviceRoutes.GET("", deviceHandler.GetAllDevices)
			deviceRoutes.GET("/:id", deviceHandler.GetDeviceByID)
			deviceRoutes.PUT("/:id", deviceHandler.UpdateDevice)
			deviceRoutes.DELETE("/:id", deviceHandler.DeleteDevice)
			deviceRoutes.POST("/:id/rotate-key", deviceHandler.RotateDeviceKey)
			deviceRoutes.POST("/:id/link-slot", deviceHandler.LinkSlot)
			deviceRoutes.GET("/:id/events", deviceHandler.GetDeviceEvents)
		}

		// Quét thủ công reservation quá hạn (bình thường sweeper tự chạy)
		v1.POST("/reservations/expire", authMw.AuthorizeRole("admin"), reservationHandler.ExpireOverdue)
	}
	return r
}
