package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chirpchat/internal/middleware"
	"chirpchat/internal/services"
)

// MessageHandler serves message posting.
type MessageHandler struct {
	messages   MessageService
	dispatcher Dispatcher
	auditor    Auditor
	logger     zerolog.Logger
}

func NewMessageHandler(messages MessageService, dispatcher Dispatcher, auditor Auditor, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:   messages,
		dispatcher: dispatcher,
		auditor:    auditor,
		logger:     logger,
	}
}

type postMessageRequest struct {
	Message        string `json:"message"`
	Image          string `json:"image"`
	ConversationID string `json:"conversationId"`
}

// PostMessage appends a message. The response is written once the message is
// stored; its events are published afterwards.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return
	}

	msg, batch, err := h.messages.PostMessage(c.Request.Context(), services.PostMessageInput{
		ConversationID: req.ConversationID,
		SenderID:       middleware.UserID(c),
		Body:           req.Message,
		Image:          req.Image,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, msg)
	h.dispatcher.Go(batch)
	if h.auditor != nil {
		h.auditor.Emit(c.Request.Context(), "INFO", "message posted", requestIDFromContext(c), userIDFromContext(c))
	}
}
