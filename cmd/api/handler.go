package api

import (
	authDelivery "mailhub-backend/internal/auth/delivery"
	authUsecase "mailhub-backend/internal/auth/usecase"
	syncDelivery "mailhub-backend/internal/mailsync/delivery"
	"mailhub-backend/pkg/config"
	"mailhub-backend/pkg/sse"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase authUsecase.AuthUsecase
	syncHandler *syncDelivery.SyncHandler
	fcmHandler  *authDelivery.FCMHandler
	sseManager  *sse.Manager
	config      *config.Config
}

func NewHandler(authUc authUsecase.AuthUsecase, syncHandler *syncDelivery.SyncHandler, fcmHandler *authDelivery.FCMHandler, sseManager *sse.Manager, cfg *config.Config) *Handler {
	return &Handler{
		authUsecase: authUc,
		syncHandler: syncHandler,
		fcmHandler:  fcmHandler,
		sseManager:  sseManager,
		config:      cfg,
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Setup routes
	SetupRoutes(r, h.authUsecase, h.syncHandler, h.fcmHandler, h.sseManager)

	return r.Run(addr)
}
