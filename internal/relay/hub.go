package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chirpchat/internal/events"
	"chirpchat/internal/observability"
)

// Hub tracks the websocket subscribers of every channel on this instance.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscriber]struct{}
	logger   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Subscriber]struct{}),
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Subscribe adds s to channel. Subscribing twice is a no-op.
func (h *Hub) Subscribe(channel string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[s] = struct{}{}
}

// Unsubscribe removes s from channel.
func (h *Hub) Unsubscribe(channel string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(channel, s)
}

// RemoveSubscriber removes s from every channel.
func (h *Hub) RemoveSubscriber(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.channels {
		h.unsubscribeLocked(channel, s)
	}
}

func (h *Hub) unsubscribeLocked(channel string, s *Subscriber) {
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// SubscriberCount reports the local subscribers of channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Deliver hands an encoded frame to every local subscriber of channel and
// returns how many accepted it. Subscribers whose buffer is full are closed
// and removed.
func (h *Hub) Deliver(channel string, frame []byte) int {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.channels[channel]))
	for s := range h.channels[channel] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if s.Send(frame) {
			delivered++
			continue
		}
		h.logger.Warn().Str("conn_id", s.ID).Str("user_id", s.UserID).Str("channel", channel).Msg("dropping slow subscriber")
		observability.IncDroppedSubscriber()
		s.Close()
		h.RemoveSubscriber(s)
	}
	return delivered
}

// Publish delivers evt to the local subscribers of channel.
func (h *Hub) Publish(ctx context.Context, channel string, evt events.Event) error {
	frame, err := events.Encode(channel, evt)
	if err != nil {
		return err
	}
	h.Deliver(channel, frame)
	return nil
}
