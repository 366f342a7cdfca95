package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chirpchat/internal/middleware"
)

// ConversationHandler serves the conversation endpoints.
type ConversationHandler struct {
	conversations ConversationService
	dispatcher    Dispatcher
	auditor       Auditor
	logger        zerolog.Logger
}

func NewConversationHandler(conversations ConversationService, dispatcher Dispatcher, auditor Auditor, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		dispatcher:    dispatcher,
		auditor:       auditor,
		logger:        logger,
	}
}

type memberRef struct {
	Value string `json:"value"`
}

type createConversationRequest struct {
	UserID  string      `json:"userId"`
	IsGroup bool        `json:"isGroup"`
	Members []memberRef `json:"members"`
	Name    string      `json:"name"`
}

// CreateConversation opens a one-to-one conversation or creates a group.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	if req.IsGroup {
		memberIDs := make([]string, 0, len(req.Members))
		for _, m := range req.Members {
			memberIDs = append(memberIDs, m.Value)
		}
		group, out, err := h.conversations.CreateGroup(ctx, userID, memberIDs, req.Name)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, group)
		h.dispatcher.Go(out)
		h.audit(c, "group conversation created")
		return
	}

	single, out, err := h.conversations.CreateSingle(ctx, userID, req.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, single)
	h.dispatcher.Go(out)
	if out.Len() > 0 {
		h.audit(c, "conversation created")
	}
}

// ListConversations returns the caller's conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	convs, err := h.conversations.ListForUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

// GetConversation returns one conversation; malformed and unknown ids are 404.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.conversations.GetByID(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if conv == nil || !conv.HasMember(middleware.UserID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListMessages returns the messages of a conversation the caller belongs to.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.conversations.ListMessages(c.Request.Context(), c.Param("conversation_id"), middleware.UserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *ConversationHandler) audit(c *gin.Context, text string) {
	if h.auditor == nil {
		return
	}
	h.auditor.Emit(c.Request.Context(), "INFO", text, requestIDFromContext(c), userIDFromContext(c))
}
