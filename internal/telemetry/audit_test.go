package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chirpchat/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	var got AuditEnvelope
	pub.On("Publish", mock.Anything, "audit.chirpchat", mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) { got = args.Get(2).(AuditEnvelope) }).
		Return(nil).Once()

	e := NewAuditEmitter(pub, "audit.chirpchat", "chirpchat", "test", zerolog.Nop())
	e.Emit(context.Background(), "INFO", "message posted", "req-1", "user-1")

	pub.AssertExpectations(t)
	require.Equal(t, "audit_log", got.EventType)
	assert.Equal(t, 1, got.SchemaVersion)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "message posted", got.Payload.Text)
}

func TestEmitNilEmitterIsNoop(t *testing.T) {
	var e *AuditEmitter
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), "INFO", "x", "", "")
	})
}
