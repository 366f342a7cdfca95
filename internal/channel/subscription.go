package channel

import (
	"context"
	"sync"
	"time"
)

const writeWait = 10 * time.Second

func deadline() time.Time {
	return time.Now().Add(writeWait)
}

// Binding identifies one handler bound on a subscription.
type Binding struct {
	event string
	id    uint64
}

// Subscription is a subscribed channel on a Client.
type Subscription struct {
	client   *Client
	name     string
	bindings map[string]map[uint64]Handler

	settleOnce sync.Once
	ready      chan struct{}
	err        error
}

func (s *Subscription) Channel() string {
	return s.name
}

// Bind registers h for event and returns a handle for Unbind.
func (s *Subscription) Bind(event string, h Handler) Binding {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	b := Binding{event: event, id: c.nextID}
	if s.bindings[event] == nil {
		s.bindings[event] = make(map[uint64]Handler)
	}
	s.bindings[event][b.id] = h
	return b
}

// Unbind removes a handler. Unbinding twice is a no-op.
func (s *Subscription) Unbind(b Binding) {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if hs, ok := s.bindings[b.event]; ok {
		delete(hs, b.id)
		if len(hs) == 0 {
			delete(s.bindings, b.event)
		}
	}
}

// Bound reports the number of handlers currently bound.
func (s *Subscription) Bound() int {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range s.bindings {
		n += len(hs)
	}
	return n
}

// Wait blocks until the relay acknowledges or rejects the subscription.
func (s *Subscription) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.err
	case <-s.client.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription) settle(err error) {
	s.settleOnce.Do(func() {
		s.err = err
		close(s.ready)
	})
}
