package api

import (
	"net/http"

	"mailhub-backend/internal/auth/delivery"
	authUsecase "mailhub-backend/internal/auth/usecase"
	syncDelivery "mailhub-backend/internal/mailsync/delivery"
	"mailhub-backend/pkg/sse"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, authUsecase authUsecase.AuthUsecase, syncHandler *syncDelivery.SyncHandler, fcmHandler *delivery.FCMHandler, sseManager *sse.Manager) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// SSE endpoint
		api.GET("/events", delivery.AuthMiddleware(authUsecase), func(c *gin.Context) {
			userID := c.GetString("userID")
			sseManager.ServeHTTP(c, userID)
		})

		// Batch action routes (protected)
		actions := api.Group("/actions")
		actions.Use(delivery.AuthMiddleware(authUsecase))
		{
			actions.POST("/read", syncHandler.MarkRead)
			actions.POST("/unread", syncHandler.MarkUnread)
			actions.POST("/delete", syncHandler.Delete)
		}

		// Sync lifecycle routes (protected)
		sync := api.Group("/sync")
		sync.Use(delivery.AuthMiddleware(authUsecase))
		{
			sync.POST("/start", syncHandler.StartSync)
			sync.POST("/stop", syncHandler.StopSync)
			sync.GET("/status", syncHandler.SyncStatus)
		}

		// Stats routes (protected)
		stats := api.Group("/stats")
		stats.Use(delivery.AuthMiddleware(authUsecase))
		{
			stats.GET("", syncHandler.Stats)
			stats.POST("/invalidate", syncHandler.Invalidate)
		}

		// FCM routes (protected)
		fcm := api.Group("/fcm")
		fcm.Use(delivery.AuthMiddleware(authUsecase))
		{
			fcm.POST("/register", fcmHandler.RegisterToken)
			fcm.DELETE("", fcmHandler.UnregisterAll)
			fcm.DELETE("/:token", fcmHandler.UnregisterToken)
		}
	}
}
