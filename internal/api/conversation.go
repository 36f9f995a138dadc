package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/middleware"
	"github.com/lalith-99/ripple/internal/repository"
	"go.uber.org/zap"
)

// ConversationHandler holds the dependencies for conversation requests.
//
// Why repository interfaces and not *postgres stores?
//   - The handler doesn't know or care that Postgres is behind them.
//   - Tests pass mock implementations. No DB needed.
//
// invalidate tells the realtime hub a conversation's member set
// changed, so the fan-out cache reloads before the next message.
type ConversationHandler struct {
	repo       repository.ConversationRepository
	members    repository.MembershipRepository
	invalidate func(conversationID uuid.UUID)
	logger     *zap.Logger
}

func NewConversationHandler(
	repo repository.ConversationRepository,
	members repository.MembershipRepository,
	invalidate func(conversationID uuid.UUID),
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{repo: repo, members: members, invalidate: invalidate, logger: logger}
}

// createConversationRequest is the JSON body for POST /v1/conversations.
// Separate from models.Conversation so clients never control id,
// tenant_id, or created_at.
type createConversationRequest struct {
	Name      string `json:"name" binding:"required"`
	IsPrivate bool   `json:"is_private"`
}

// Create handles POST /v1/conversations. The creator becomes the first
// member — a conversation nobody belongs to would be unreachable.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := middleware.GetTenantID(c)
	userID := middleware.GetUserID(c)

	conv, err := h.repo.Create(c.Request.Context(), tenantID, req.Name, req.IsPrivate)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}

	if err := h.members.AddMember(c.Request.Context(), conv.ID, userID, "admin"); err != nil {
		h.logger.Error("failed to add creator as member", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// List handles GET /v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	conversations, err := h.repo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// GetByID handles GET /v1/conversations/:id
func (h *ConversationHandler) GetByID(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	conv, err := h.repo.GetByID(c.Request.Context(), tenantID, conversationID)
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get conversation"})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	c.JSON(http.StatusOK, conv)
}

type joinConversationRequest struct {
	Role string `json:"role"`
}

// Join handles POST /v1/conversations/:id/join
func (h *ConversationHandler) Join(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := middleware.GetUserID(c)

	// Body is optional; default role is member.
	var req joinConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Role = "member"
	}
	if req.Role == "" {
		req.Role = "member"
	}

	if err := h.members.AddMember(c.Request.Context(), conversationID, userID, req.Role); err != nil {
		h.logger.Error("failed to join conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join conversation"})
		return
	}
	h.invalidate(conversationID)

	c.Status(http.StatusNoContent)
}

// Leave handles POST /v1/conversations/:id/leave
func (h *ConversationHandler) Leave(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := middleware.GetUserID(c)

	if err := h.members.RemoveMember(c.Request.Context(), conversationID, userID); err != nil {
		h.logger.Error("failed to leave conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave conversation"})
		return
	}
	h.invalidate(conversationID)

	c.Status(http.StatusNoContent)
}

// ListMembers handles GET /v1/conversations/:id/members
func (h *ConversationHandler) ListMembers(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	members, err := h.members.ListMembers(c.Request.Context(), conversationID)
	if err != nil {
		h.logger.Error("failed to list members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list members"})
		return
	}

	c.JSON(http.StatusOK, members)
}
