package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chirpchat/internal/models"
	"chirpchat/internal/outbox"
	"chirpchat/internal/services"
)

type conversationServiceMock struct {
	mock.Mock
}

func (m *conversationServiceMock) CreateSingle(ctx context.Context, requesterID, otherUserID string) (models.Conversation, outbox.Batch, error) {
	args := m.Called(ctx, requesterID, otherUserID)
	return args.Get(0).(models.Conversation), args.Get(1).(outbox.Batch), args.Error(2)
}

func (m *conversationServiceMock) CreateGroup(ctx context.Context, requesterID string, memberIDs []string, name string) (models.Conversation, outbox.Batch, error) {
	args := m.Called(ctx, requesterID, memberIDs, name)
	return args.Get(0).(models.Conversation), args.Get(1).(outbox.Batch), args.Error(2)
}

func (m *conversationServiceMock) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	var conv *models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(*models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *conversationServiceMock) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *conversationServiceMock) ListMessages(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type messageServiceMock struct {
	mock.Mock
}

func (m *messageServiceMock) PostMessage(ctx context.Context, in services.PostMessageInput) (models.Message, outbox.Batch, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(models.Message), args.Get(1).(outbox.Batch), args.Error(2)
}

type dispatcherMock struct {
	mock.Mock
}

func (m *dispatcherMock) Go(batch outbox.Batch) {
	m.Called(batch)
}

type auditorMock struct {
	mock.Mock
}

func (m *auditorMock) Emit(ctx context.Context, level, text, requestID, userID string) {
	m.Called(ctx, level, text, requestID, userID)
}
