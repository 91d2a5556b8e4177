package delivery

import (
	"context"
	"errors"
	"net/http"

	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/internal/mailsync/poller"
	"mailhub-backend/internal/mailsync/repository"
	"mailhub-backend/internal/mailsync/usecase"

	"github.com/gin-gonic/gin"
)

// ActionRequest is the body of a batch read-state or delete action
type ActionRequest struct {
	Provider   string   `json:"provider" binding:"required"`
	MessageIDs []string `json:"message_ids" binding:"required"`
}

// SyncRequest addresses one (user, provider) sync runner
type SyncRequest struct {
	Provider string `json:"provider" binding:"required"`
}

type actionFunc func(ctx context.Context, userID string, provider domain.Provider, messageIDs []string) (*domain.StatsSnapshot, error)

// SyncHandler exposes the action coordinator and the poll manager over HTTP
type SyncHandler struct {
	coordinator *usecase.Coordinator
	poller      *poller.Manager
	stats       *repository.StatsCache
}

// NewSyncHandler creates a new instance of SyncHandler
func NewSyncHandler(coordinator *usecase.Coordinator, pollManager *poller.Manager, stats *repository.StatsCache) *SyncHandler {
	return &SyncHandler{
		coordinator: coordinator,
		poller:      pollManager,
		stats:       stats,
	}
}

// MarkRead handles POST /api/actions/read
func (h *SyncHandler) MarkRead(c *gin.Context) {
	h.runAction(c, h.coordinator.MarkRead)
}

// MarkUnread handles POST /api/actions/unread
func (h *SyncHandler) MarkUnread(c *gin.Context) {
	h.runAction(c, h.coordinator.MarkUnread)
}

// Delete handles POST /api/actions/delete
func (h *SyncHandler) Delete(c *gin.Context) {
	h.runAction(c, h.coordinator.Delete)
}

// runAction binds the batch request, applies the optimistic action, and
// returns the adjusted snapshot the client should render immediately
func (h *SyncHandler) runAction(c *gin.Context, action actionFunc) {
	userID := c.GetString("userID")

	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := action(c.Request.Context(), userID, provider, req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	h.poller.Touch(userID, provider)
	c.JSON(http.StatusOK, gin.H{"stats": snap})
}

// StartSync handles POST /api/sync/start
func (h *SyncHandler) StartSync(c *gin.Context) {
	userID := c.GetString("userID")

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The runner must outlive this request, so it gets a background context.
	if err := h.poller.Start(context.Background(), userID, provider); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// StopSync handles POST /api/sync/stop
func (h *SyncHandler) StopSync(c *gin.Context) {
	userID := c.GetString("userID")

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.poller.Stop(userID, provider)
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// SyncStatus handles GET /api/sync/status
func (h *SyncHandler) SyncStatus(c *gin.Context) {
	userID := c.GetString("userID")

	provider, err := domain.ParseProvider(c.Query("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, ok := h.poller.State(userID, provider)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false, "status": "stopped"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// Stats handles GET /api/stats. The cached snapshot is served when present;
// a cold cache triggers one synchronous authoritative recompute.
func (h *SyncHandler) Stats(c *gin.Context) {
	userID := c.GetString("userID")

	provider, err := domain.ParseProvider(c.Query("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.poller.Touch(userID, provider)

	if c.Query("refresh") != "true" {
		snap, err := h.stats.Get(c.Request.Context(), userID, provider)
		if err != nil {
			respondError(c, err)
			return
		}
		if snap != nil {
			c.JSON(http.StatusOK, gin.H{"stats": snap, "cached": true})
			return
		}
	}

	snap, err := h.coordinator.Recompute(c.Request.Context(), userID, provider)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": snap, "cached": false})
}

// Invalidate handles POST /api/stats/invalidate
func (h *SyncHandler) Invalidate(c *gin.Context) {
	userID := c.GetString("userID")

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.coordinator.Invalidate(c.Request.Context(), userID, provider); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAuthExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "provider authorization expired, please re-link the account"})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, try again shortly"})
	case errors.Is(err, domain.ErrCacheUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
