package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chirpchat/internal/events"
	"chirpchat/internal/models"
)

func TestHubPublishReachesOnlyChannelSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice := NewSubscriber("u1", "a@x.com", 4)
	bob := NewSubscriber("u2", "b@x.com", 4)
	hub.Subscribe("a@x.com", alice)
	hub.Subscribe("b@x.com", bob)

	conv := models.Conversation{ID: models.NewID()}
	require.NoError(t, hub.Publish(context.Background(), "a@x.com", events.ConversationNew{Conversation: conv}))

	require.Len(t, alice.Outbound(), 1)
	assert.Len(t, bob.Outbound(), 0)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(<-alice.Outbound(), &env))
	assert.Equal(t, "a@x.com", env.Channel)
	assert.Equal(t, events.ConversationNewName, env.Event)
}

func TestHubPublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	assert.NoError(t, hub.Publish(context.Background(), "nobody", events.ConversationUpdate{ID: "x"}))
	assert.Equal(t, 0, hub.Deliver("nobody", []byte(`{}`)))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := NewSubscriber("u1", "a@x.com", 1)
	hub.Subscribe("c", slow)
	hub.Subscribe("d", slow)

	assert.Equal(t, 1, hub.Deliver("c", []byte(`1`)))
	assert.Equal(t, 0, hub.Deliver("c", []byte(`2`)))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber not closed")
	}
	assert.Equal(t, 0, hub.SubscriberCount("c"))
	assert.Equal(t, 0, hub.SubscriberCount("d"))
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	s := NewSubscriber("u1", "", 2)
	hub.Subscribe("c", s)
	hub.Subscribe("c", s)
	assert.Equal(t, 1, hub.SubscriberCount("c"))

	hub.Unsubscribe("c", s)
	assert.Equal(t, 0, hub.Deliver("c", []byte(`x`)))
}

func TestSubscriberSendAfterClose(t *testing.T) {
	s := NewSubscriber("u1", "", 2)
	s.Close()
	s.Close()
	assert.False(t, s.Send([]byte(`x`)))
}
