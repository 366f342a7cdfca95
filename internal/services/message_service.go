package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"chirpchat/internal/apperr"
	"chirpchat/internal/events"
	"chirpchat/internal/models"
	"chirpchat/internal/outbox"
	"chirpchat/internal/repositories"
)

// PostMessageInput is a message as submitted by its sender.
type PostMessageInput struct {
	ConversationID string
	SenderID       string
	Body           string
	Image          string
}

// MessageService appends messages and computes their fan-out.
type MessageService struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
}

func NewMessageService(conversations repositories.ConversationRepository, messages repositories.MessageRepository) *MessageService {
	return &MessageService{conversations: conversations, messages: messages}
}

// PostMessage persists the message and bumps lastMessageAt in one step. The
// returned batch holds messages:new for the conversation channel and a
// conversation:update for every member with a personal channel. Nothing is
// queued when persistence fails.
func (s *MessageService) PostMessage(ctx context.Context, in PostMessageInput) (models.Message, outbox.Batch, error) {
	ctx, span := tracer.Start(ctx, "messages.post")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", in.ConversationID))

	if !models.ValidID(in.ConversationID) {
		return models.Message{}, outbox.Batch{}, fail(span, apperr.NotFound("conversation %s", in.ConversationID))
	}
	member, err := s.conversations.IsMember(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return models.Message{}, outbox.Batch{}, fail(span, apperr.Persistence("check membership", err))
	}
	if !member {
		if _, err := s.conversations.GetConversation(ctx, in.ConversationID); errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Message{}, outbox.Batch{}, fail(span, apperr.NotFound("conversation %s", in.ConversationID))
		} else if err != nil {
			return models.Message{}, outbox.Batch{}, fail(span, apperr.Persistence("get conversation", err))
		}
		return models.Message{}, outbox.Batch{}, fail(span, apperr.Forbidden("not a member of conversation %s", in.ConversationID))
	}

	msg, conv, err := s.messages.AppendMessage(ctx, repositories.NewMessage{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           in.Body,
		Image:          in.Image,
	})
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Message{}, outbox.Batch{}, fail(span, apperr.NotFound("conversation %s", in.ConversationID))
	}
	if err != nil {
		return models.Message{}, outbox.Batch{}, fail(span, apperr.Persistence("append message", err))
	}

	var batch outbox.Batch
	batch.Add(events.ConversationChannel(conv.ID), events.MessagesNew{Message: msg})
	for _, u := range conv.Users {
		if ch, ok := events.PersonalChannel(u); ok {
			batch.Add(ch, events.ConversationUpdate{ID: conv.ID, Messages: []models.Message{msg}})
		}
	}
	span.SetAttributes(attribute.String("message.id", msg.ID), attribute.Int("outbox.tasks", batch.Len()))
	return msg, batch, nil
}
