package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/middleware"
	"github.com/lalith-99/ripple/internal/repository"
	"go.uber.org/zap"
)

// MessageHandler serves message history — the ordinary fetch path that
// backstops the push pipeline. Sending goes over the WebSocket; there
// is deliberately no POST here, so there is exactly one send path to
// get ordering and fan-out right.
type MessageHandler struct {
	messages repository.MessageRepository
	members  repository.MembershipRepository
	logger   *zap.Logger
}

func NewMessageHandler(
	messages repository.MessageRepository,
	members repository.MembershipRepository,
	logger *zap.Logger,
) *MessageHandler {
	return &MessageHandler{messages: messages, members: members, logger: logger}
}

// List handles GET /v1/conversations/:id/messages?before=123&limit=50
//
// Cursor-based pagination:
//   - "before" = message ID. "Give me messages older than this." 0 = latest.
//   - "limit"  = how many to return. Default 50, capped at 100.
func (h *MessageHandler) List(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	// History is member-only — same rule the realtime fan-out enforces.
	userID := middleware.GetUserID(c)
	member, err := h.members.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.logger.Error("failed to check membership", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this conversation"})
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		if limit > 100 {
			limit = 100
		}
	}

	messages, err := h.messages.ListByConversation(c.Request.Context(), conversationID, before, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}
