package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chirpchat/internal/events"
	"chirpchat/internal/relay"
)

var ErrClosed = errors.New("channel client closed")

// Handler receives one decoded event.
type Handler func(evt events.Event)

// FrameWriter sends control frames to the relay.
type FrameWriter interface {
	WriteJSON(v interface{}) error
}

// Client holds channel subscriptions over one relay connection and routes
// incoming events to the handlers bound on them.
type Client struct {
	mu     sync.Mutex
	w      FrameWriter
	subs   map[string]*Subscription
	nextID uint64
	closed bool
	done   chan struct{}
	conn   *websocket.Conn
	logger zerolog.Logger
}

// NewClient builds a client that writes control frames to w. Incoming frames
// are fed through HandleFrame or Dispatch by the caller.
func NewClient(w FrameWriter, logger zerolog.Logger) *Client {
	return &Client{
		w:      w,
		subs:   make(map[string]*Subscription),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "channel_client").Logger(),
	}
}

// Dial connects to the relay websocket at url and starts reading events.
// Handlers run on the read goroutine, one at a time.
func Dial(ctx context.Context, url, token string, logger zerolog.Logger) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := NewClient(&lockedConn{conn: conn}, logger)
	c.conn = conn
	go c.readLoop(conn)
	return c, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.markClosed()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("relay read failed")
			}
			return
		}
		c.HandleFrame(raw)
	}
}

// Subscribe subscribes the named channel. Subscribing an already subscribed
// channel returns the existing subscription.
func (c *Client) Subscribe(name string) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if sub, ok := c.subs[name]; ok {
		return sub, nil
	}
	if err := c.w.WriteJSON(relay.ClientFrame{Action: relay.ActionSubscribe, Channel: name}); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	sub := &Subscription{
		client:   c,
		name:     name,
		bindings: make(map[string]map[uint64]Handler),
		ready:    make(chan struct{}),
	}
	c.subs[name] = sub
	return sub, nil
}

// Unsubscribe drops the channel and every handler bound on it. Events for the
// channel that arrive afterwards are discarded.
func (c *Client) Unsubscribe(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[name]
	if !ok {
		return nil
	}
	delete(c.subs, name)
	sub.bindings = make(map[string]map[uint64]Handler)
	if c.closed {
		return nil
	}
	return c.w.WriteJSON(relay.ClientFrame{Action: relay.ActionUnsubscribe, Channel: name})
}

// Subscribed reports whether name is currently subscribed.
func (c *Client) Subscribed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[name]
	return ok
}

// HandleFrame routes one raw relay frame.
func (c *Client) HandleFrame(raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug().Err(err).Msg("discarding malformed frame")
		return
	}

	switch env.Event {
	case relay.EventSubscribed, relay.EventError:
		var data relay.ControlData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[data.Channel]
		rejected := env.Event == relay.EventError
		if sub != nil && rejected {
			// A later Subscribe sends a fresh frame.
			delete(c.subs, data.Channel)
			sub.bindings = make(map[string]map[uint64]Handler)
		}
		c.mu.Unlock()
		if sub == nil {
			return
		}
		if rejected {
			c.logger.Warn().Str("channel", data.Channel).Str("error", data.Error).Msg("subscription rejected")
			sub.settle(errors.New(data.Error))
			return
		}
		sub.settle(nil)
	default:
		c.Dispatch(env)
	}
}

// Dispatch decodes env and calls the handlers bound to its event on its
// channel. Handlers are called outside the client lock.
func (c *Client) Dispatch(env events.Envelope) {
	c.mu.Lock()
	sub, ok := c.subs[env.Channel]
	var handlers []Handler
	if ok {
		for _, h := range sub.bindings[env.Event] {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	evt, err := env.Decode()
	if err != nil {
		c.logger.Debug().Err(err).Str("channel", env.Channel).Str("event", env.Event).Msg("discarding undecodable event")
		return
	}
	for _, h := range handlers {
		h(evt)
	}
}

// Close drops every subscription and closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.subs = make(map[string]*Subscription)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.markClosed()
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
	return conn.Close()
}

// Done is closed once the client stops receiving events.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteJSON(v interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(deadline())
	return l.conn.WriteJSON(v)
}
