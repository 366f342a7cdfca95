package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chirpchat/internal/apperr"
	"chirpchat/internal/events"
	"chirpchat/internal/models"
	"chirpchat/internal/outbox"
	"chirpchat/internal/repositories"
)

var tracer = otel.Tracer("chirpchat/services")

// ConversationService creates and reads conversations.
type ConversationService struct {
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	uniquePairs   bool
}

// NewConversationService builds a ConversationService. With uniquePairs set,
// single conversations carry a pair key and a concurrent duplicate create
// resolves to the conversation that won.
func NewConversationService(users repositories.UserRepository, conversations repositories.ConversationRepository, messages repositories.MessageRepository, uniquePairs bool) *ConversationService {
	return &ConversationService{
		users:         users,
		conversations: conversations,
		messages:      messages,
		uniquePairs:   uniquePairs,
	}
}

// CreateSingle returns the one-to-one conversation between requester and
// other, creating it when none exists. Only a newly created conversation
// produces events.
func (s *ConversationService) CreateSingle(ctx context.Context, requesterID, otherUserID string) (models.Conversation, outbox.Batch, error) {
	ctx, span := tracer.Start(ctx, "conversations.create_single")
	defer span.End()

	if otherUserID == "" {
		return models.Conversation{}, outbox.Batch{}, fail(span, apperr.Validation("userId is required"))
	}
	if otherUserID == requesterID {
		return models.Conversation{}, outbox.Batch{}, fail(span, apperr.Validation("cannot start a conversation with yourself"))
	}
	if err := s.requireUser(ctx, otherUserID); err != nil {
		return models.Conversation{}, outbox.Batch{}, fail(span, err)
	}

	existing, err := s.conversations.FindSingle(ctx, requesterID, otherUserID)
	if err == nil {
		span.SetAttributes(attribute.Bool("conversation.existing", true))
		return existing, outbox.Batch{}, nil
	}
	if !errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, outbox.Batch{}, fail(span, apperr.Persistence("find single conversation", err))
	}

	in := repositories.NewConversation{MemberIDs: []string{requesterID, otherUserID}}
	if s.uniquePairs {
		in.PairKey = models.PairKey(requesterID, otherUserID)
	}
	conv, err := s.conversations.CreateConversation(ctx, in)
	if errors.Is(err, repositories.ErrDuplicatePair) {
		winner, ferr := s.conversations.FindSingle(ctx, requesterID, otherUserID)
		if ferr != nil {
			return models.Conversation{}, outbox.Batch{}, fail(span, apperr.Persistence("reload single conversation", ferr))
		}
		span.SetAttributes(attribute.Bool("conversation.existing", true))
		return winner, outbox.Batch{}, nil
	}
	if err != nil {
		return models.Conversation{}, outbox.Batch{}, fail(span, apperr.Persistence("create single conversation", err))
	}

	span.SetAttributes(attribute.String("conversation.id", conv.ID))
	return conv, announce(conv), nil
}

// CreateGroup creates a named group of the requester and memberIDs.
func (s *ConversationService) CreateGroup(ctx context.Context, requesterID string, memberIDs []string, name string) (models.Conversation, outbox.Batch, error) {
	ctx, span := tracer.Start(ctx, "conversations.create_group")
	defer span.End()

	name = strings.TrimSpace(name)
	members := dedupe(append(append([]string{}, memberIDs...), requesterID))
	// Two distinct invitees plus the requester.
	if len(members) < 3 || name == "" {
		return models.Conversation{}, outbox.Batch{}, fail(span, apperr.Validation("a group needs at least 2 other members and a name"))
	}

	if err := s.requireUsers(ctx, members); err != nil {
		return models.Conversation{}, outbox.Batch{}, fail(span, err)
	}

	conv, err := s.conversations.CreateConversation(ctx, repositories.NewConversation{
		Name:      name,
		IsGroup:   true,
		MemberIDs: members,
	})
	if err != nil {
		return models.Conversation{}, outbox.Batch{}, fail(span, apperr.Persistence("create group conversation", err))
	}

	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.Int("conversation.members", len(members)))
	return conv, announce(conv), nil
}

// GetByID returns the conversation or nil when id is malformed or unknown.
func (s *ConversationService) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	if !models.ValidID(id) {
		return nil, nil
	}
	conv, err := s.conversations.GetConversation(ctx, id)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("get conversation", err)
	}
	return &conv, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("list conversations", err)
	}
	return convs, nil
}

// ListMessages returns the messages of a conversation the user belongs to.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	conv, err := s.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation %s", conversationID)
	}
	if !conv.HasMember(userID) {
		return nil, apperr.Forbidden("not a member of conversation %s", conversationID)
	}
	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Persistence("list messages", err)
	}
	return msgs, nil
}

func (s *ConversationService) requireUser(ctx context.Context, id string) error {
	if !models.ValidID(id) {
		return apperr.NotFound("user %s", id)
	}
	_, err := s.users.GetUser(ctx, id)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return apperr.NotFound("user %s", id)
	}
	if err != nil {
		return apperr.Persistence("load user", err)
	}
	return nil
}

func (s *ConversationService) requireUsers(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if !models.ValidID(id) {
			return apperr.NotFound("user %s", id)
		}
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return apperr.Persistence("load users", err)
	}
	known := make(map[string]struct{}, len(users))
	for _, u := range users {
		known[u.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return apperr.NotFound("user %s", id)
		}
	}
	return nil
}

// announce queues conversation:new for every member reachable on a personal channel.
func announce(conv models.Conversation) outbox.Batch {
	var batch outbox.Batch
	for _, u := range conv.Users {
		if ch, ok := events.PersonalChannel(u); ok {
			batch.Add(ch, events.ConversationNew{Conversation: conv})
		}
	}
	return batch
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
