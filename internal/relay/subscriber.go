package relay

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the number of frames queued per subscriber before it is
// considered too slow and dropped.
const DefaultBuffer = 64

// Subscriber is one websocket connection's outbound queue.
type Subscriber struct {
	ID     string
	UserID string
	Email  string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewSubscriber(userID, email string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscriber{
		ID:     uuid.NewString(),
		UserID: userID,
		Email:  email,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues a frame without blocking. It reports false when the subscriber
// is closed or its buffer is full.
func (s *Subscriber) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound yields queued frames. It is never closed; watch Done instead.
func (s *Subscriber) Outbound() <-chan []byte {
	return s.send
}

func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
