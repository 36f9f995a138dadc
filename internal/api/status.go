package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/middleware"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/lalith-99/ripple/internal/status"
	"github.com/lalith-99/ripple/internal/ws"
	"go.uber.org/zap"
)

// StatusHandler is the presence/unread query surface for dashboard
// widgets that have nothing to do with chat. Live presence comes from
// the hub's tracker (authoritative in-process); unread counters come
// from the Redis snapshot the fan-out path maintains.
type StatusHandler struct {
	presence *ws.PresenceTracker
	store    *status.Store
	logger   *zap.Logger
}

func NewStatusHandler(presence *ws.PresenceTracker, store *status.Store, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{presence: presence, store: store, logger: logger}
}

type presenceEntry struct {
	UserID uuid.UUID             `json:"user_id"`
	Status models.PresenceStatus `json:"status"`
}

// Presence handles GET /v1/status/presence?user_ids=a,b,c
func (h *StatusHandler) Presence(c *gin.Context) {
	raw := c.Query("user_ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids is required"})
		return
	}

	parts := strings.Split(raw, ",")
	if len(parts) > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many user_ids (max 100)"})
		return
	}

	entries := make([]presenceEntry, 0, len(parts))
	for _, part := range parts {
		userID, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id: " + part})
			return
		}
		entries = append(entries, presenceEntry{
			UserID: userID,
			Status: h.presence.StatusOf(userID),
		})
	}

	c.JSON(http.StatusOK, entries)
}

// Unread handles GET /v1/status/unread — the caller's own counters.
func (h *StatusHandler) Unread(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status store unavailable"})
		return
	}
	userID := middleware.GetUserID(c)

	counts, err := h.store.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to read unread counts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read unread counts"})
		return
	}

	out := make(map[string]int64, len(counts))
	for convID, n := range counts {
		out[convID.String()] = n
	}
	c.JSON(http.StatusOK, gin.H{"unread": out})
}
