package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chirpchat/internal/apperr"
	"chirpchat/internal/models"
	"chirpchat/internal/outbox"
	"chirpchat/internal/services"
)

// ConversationService is the conversation store as seen by the HTTP layer.
type ConversationService interface {
	CreateSingle(ctx context.Context, requesterID, otherUserID string) (models.Conversation, outbox.Batch, error)
	CreateGroup(ctx context.Context, requesterID string, memberIDs []string, name string) (models.Conversation, outbox.Batch, error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID string) ([]models.Message, error)
}

// MessageService is the message append pipeline as seen by the HTTP layer.
type MessageService interface {
	PostMessage(ctx context.Context, in services.PostMessageInput) (models.Message, outbox.Batch, error)
}

// Dispatcher runs an outbox batch after the response is written.
type Dispatcher interface {
	Go(batch outbox.Batch)
}

// Auditor records user-visible actions.
type Auditor interface {
	Emit(ctx context.Context, level, text, requestID, userID string)
}

// writeError maps err to its status and logs server-side failures.
func writeError(c *gin.Context, logger zerolog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": publicMessage(err)})
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrForbidden):
		return err.Error()
	default:
		return http.StatusText(apperr.HTTPStatus(err))
	}
}
