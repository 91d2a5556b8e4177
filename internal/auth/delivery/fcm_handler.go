package delivery

import (
	"net/http"

	"mailhub-backend/internal/auth/repository"

	"github.com/gin-gonic/gin"
)

// FCMHandler manages device token registration for push notifications
type FCMHandler struct {
	fcmRepo repository.FCMTokenRepository
}

// NewFCMHandler creates a new instance of FCMHandler
func NewFCMHandler(fcmRepo repository.FCMTokenRepository) *FCMHandler {
	return &FCMHandler{fcmRepo: fcmRepo}
}

type registerTokenRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

// RegisterToken handles POST /api/fcm/register
func (h *FCMHandler) RegisterToken(c *gin.Context) {
	userID := c.GetString("userID")

	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.fcmRepo.SaveToken(userID, req.Token, req.DeviceInfo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// UnregisterToken handles DELETE /api/fcm/:token
func (h *FCMHandler) UnregisterToken(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}

	if err := h.fcmRepo.DeleteToken(token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unregistered"})
}

// UnregisterAll handles DELETE /api/fcm: drops every device token for the
// authenticated user so no further pushes reach signed-out devices
func (h *FCMHandler) UnregisterAll(c *gin.Context) {
	userID := c.GetString("userID")

	if err := h.fcmRepo.DeleteTokensByUserID(userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unregistered"})
}
