package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chirpchat/internal/auth"
	"chirpchat/internal/events"
	"chirpchat/internal/models"
	"chirpchat/internal/observability"
)

const (
	testSecret = "relay-secret"
	testUserID = "aaaaaaaaaaaaaaaaaaaaaaaa"
)

type membership map[string]bool

func (m membership) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return m[conversationID+"/"+userID], nil
}

func startRelay(t *testing.T, members MembershipChecker, sink EventSink) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, auth.NewVerifier(testSecret), members, sink, zerolog.Nop())
	r := gin.New()
	r.GET("/ws", h.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, s auth.Session) *websocket.Conn {
	t.Helper()
	token, err := auth.NewVerifier(testSecret).Issue(s, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readControl(t *testing.T, conn *websocket.Conn) ControlFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame ControlFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHandleRejectsMissingToken(t *testing.T) {
	_, srv := startRelay(t, membership{}, nil)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleSubscribeAndReceive(t *testing.T) {
	convID := models.NewID()
	hub, srv := startRelay(t, membership{convID + "/" + testUserID: true}, nil)
	conn := dial(t, srv, auth.Session{UserID: testUserID, Email: "a@x.com"})

	require.NoError(t, conn.WriteJSON(ClientFrame{Action: ActionSubscribe, Channel: "a@x.com"}))
	ack := readControl(t, conn)
	assert.Equal(t, EventSubscribed, ack.Event)
	assert.Equal(t, "a@x.com", ack.Data.Channel)

	require.NoError(t, conn.WriteJSON(ClientFrame{Action: ActionSubscribe, Channel: convID}))
	assert.Equal(t, EventSubscribed, readControl(t, conn).Event)

	msg := models.Message{ID: models.NewID(), ConversationID: convID, Body: "hi"}
	require.NoError(t, hub.Publish(context.Background(), convID, events.MessagesNew{Message: msg}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env events.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, convID, env.Channel)
	evt, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, msg.ID, evt.(events.MessagesNew).Message.ID)
}

func TestHandleRejectsForeignChannels(t *testing.T) {
	convID := models.NewID()
	hub, srv := startRelay(t, membership{}, nil)
	conn := dial(t, srv, auth.Session{UserID: testUserID, Email: "a@x.com"})

	for _, channel := range []string{"b@x.com", convID, ""} {
		require.NoError(t, conn.WriteJSON(ClientFrame{Action: ActionSubscribe, Channel: channel}))
		frame := readControl(t, conn)
		assert.Equal(t, EventError, frame.Event)
		assert.Equal(t, channel, frame.Data.Channel)
		assert.NotEmpty(t, frame.Data.Error)
	}
	assert.Equal(t, 0, hub.SubscriberCount("b@x.com"))
	assert.Equal(t, 0, hub.SubscriberCount(convID))
}

type recordingSink struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSink) Publish(ctx context.Context, routingKey string, event any) error {
	env, ok := event.(observability.EventEnvelope)
	if !ok || routingKey != "ws_events.relay" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, env.EventName)
	return nil
}

func (s *recordingSink) seen(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

func TestHandleUnsubscribeAndDisconnectCleanUp(t *testing.T) {
	sink := &recordingSink{}
	hub, srv := startRelay(t, membership{}, sink)
	conn := dial(t, srv, auth.Session{UserID: testUserID, Email: "a@x.com"})

	require.NoError(t, conn.WriteJSON(ClientFrame{Action: ActionSubscribe, Channel: "a@x.com"}))
	readControl(t, conn)
	assert.Equal(t, 1, hub.SubscriberCount("a@x.com"))
	assert.True(t, sink.seen("ws_connect"))

	require.NoError(t, conn.WriteJSON(ClientFrame{Action: ActionUnsubscribe, Channel: "a@x.com"}))
	require.Eventually(t, func() bool { return hub.SubscriberCount("a@x.com") == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientFrame{Action: ActionSubscribe, Channel: "a@x.com"}))
	readControl(t, conn)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.SubscriberCount("a@x.com") == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sink.seen("ws_disconnect") }, time.Second, 5*time.Millisecond)
}
