package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chirpchat/internal/events"
)

// PublisherMock stands in for the rabbitmq publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ChannelPublisherMock stands in for the relay when dispatching outbox tasks.
type ChannelPublisherMock struct {
	mock.Mock
}

func (m *ChannelPublisherMock) Publish(ctx context.Context, channel string, evt events.Event) error {
	args := m.Called(ctx, channel, evt)
	return args.Error(0)
}
