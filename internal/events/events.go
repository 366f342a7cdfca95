// Package events models the channel events fanned out to browsers as a closed
// set of variants, one per event name, each with a typed payload.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"chirpchat/internal/models"
)

const (
	ConversationNewName    = "conversation:new"
	ConversationUpdateName = "conversation:update"
	ConversationRemoveName = "conversation:remove"
	MessagesNewName        = "messages:new"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is implemented only by the variants in this package.
type Event interface {
	Name() string
	payload() any
}

// ConversationNew announces a conversation on each member's personal channel.
type ConversationNew struct {
	Conversation models.Conversation
}

// ConversationUpdate carries the minimal delta sent to personal channels after
// a message is appended.
type ConversationUpdate struct {
	ID       string           `json:"id"`
	Messages []models.Message `json:"messages"`
}

// ConversationRemove tells personal channels to drop a conversation.
type ConversationRemove struct {
	Conversation models.Conversation
}

// MessagesNew is published on the conversation channel for every new message.
type MessagesNew struct {
	Message models.Message
}

func (ConversationNew) Name() string    { return ConversationNewName }
func (ConversationUpdate) Name() string { return ConversationUpdateName }
func (ConversationRemove) Name() string { return ConversationRemoveName }
func (MessagesNew) Name() string        { return MessagesNewName }

func (e ConversationNew) payload() any    { return e.Conversation }
func (e ConversationUpdate) payload() any { return e }
func (e ConversationRemove) payload() any { return e.Conversation }
func (e MessagesNew) payload() any        { return e.Message }

// Payload returns the value encoded as the data of evt.
func Payload(evt Event) any {
	return evt.payload()
}

// Envelope is the wire frame delivered to channel subscribers.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// NewEnvelope encodes evt for delivery on channel.
func NewEnvelope(channel string, evt Event) (Envelope, error) {
	data, err := json.Marshal(evt.payload())
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", evt.Name(), err)
	}
	return Envelope{Channel: channel, Event: evt.Name(), Data: data}, nil
}

// Encode returns the JSON frame for evt on channel.
func Encode(channel string, evt Event) ([]byte, error) {
	env, err := NewEnvelope(channel, evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode turns the envelope back into its typed variant.
func (e Envelope) Decode() (Event, error) {
	switch e.Event {
	case ConversationNewName:
		var conv models.Conversation
		if err := json.Unmarshal(e.Data, &conv); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Event, err)
		}
		return ConversationNew{Conversation: conv}, nil
	case ConversationUpdateName:
		var upd ConversationUpdate
		if err := json.Unmarshal(e.Data, &upd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Event, err)
		}
		return upd, nil
	case ConversationRemoveName:
		var conv models.Conversation
		if err := json.Unmarshal(e.Data, &conv); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Event, err)
		}
		return ConversationRemove{Conversation: conv}, nil
	case MessagesNewName:
		var msg models.Message
		if err := json.Unmarshal(e.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Event, err)
		}
		return MessagesNew{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Event)
	}
}
