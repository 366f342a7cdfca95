package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"chirpchat/internal/auth"
	"chirpchat/internal/models"
	"chirpchat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	EventSubscribed = "relay:subscribed"
	EventError      = "relay:error"

	wsRoutingKey = "ws_events.relay"
)

var errChannelForbidden = errors.New("channel not allowed")

// SessionVerifier resolves a bearer token to a session.
type SessionVerifier interface {
	Verify(token string) (auth.Session, error)
}

// MembershipChecker reports whether a user belongs to a conversation.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// EventSink receives connection lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// ClientFrame is a control frame sent by a websocket client.
type ClientFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// ControlFrame is sent by the relay to acknowledge or reject a subscription.
type ControlFrame struct {
	Event string      `json:"event"`
	Data  ControlData `json:"data"`
}

type ControlData struct {
	Channel string `json:"channel"`
	Error   string `json:"error,omitempty"`
}

// Handler serves the relay websocket endpoint.
type Handler struct {
	hub      *Hub
	verifier SessionVerifier
	members  MembershipChecker
	sink     EventSink
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket handler. sink may be nil.
func NewHandler(hub *Hub, verifier SessionVerifier, members MembershipChecker, sink EventSink, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		members:  members,
		sink:     sink,
		logger:   logger.With().Str("component", "relay_ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the caller, upgrades the connection and serves
// subscribe/unsubscribe frames until the connection closes.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chirpchat/relay").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token := auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	session, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := NewSubscriber(session.UserID, session.Email, DefaultBuffer)
	info := ConnInfo{
		ConnID:      sub.ID,
		UserID:      session.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	observability.IncWSActive()
	h.emit(ctx, "ws_connect", info, "")

	go h.writeLoop(conn, sub)
	reason := h.readLoop(context.WithoutCancel(ctx), conn, sub, session)

	h.hub.RemoveSubscriber(sub)
	sub.Close()
	observability.DecWSActive()
	h.emit(ctx, "ws_disconnect", info, reason)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscriber, session auth.Session) string {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(sub, EventError, "", "malformed frame")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Str("conn_id", sub.ID).Msg("websocket read error")
			}
			return err.Error()
		}

		switch frame.Action {
		case ActionSubscribe:
			if err := h.authorize(ctx, session, frame.Channel); err != nil {
				h.reply(sub, EventError, frame.Channel, err.Error())
				continue
			}
			h.hub.Subscribe(frame.Channel, sub)
			h.reply(sub, EventSubscribed, frame.Channel, "")
		case ActionUnsubscribe:
			h.hub.Unsubscribe(frame.Channel, sub)
		default:
			h.reply(sub, EventError, frame.Channel, "unknown action")
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-sub.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				sub.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// authorize allows a session's own personal channel and the channels of
// conversations it belongs to.
func (h *Handler) authorize(ctx context.Context, session auth.Session, channel string) error {
	if channel == "" {
		return errChannelForbidden
	}
	if channel == session.Email {
		return nil
	}
	if !models.ValidID(channel) {
		return errChannelForbidden
	}
	member, err := h.members.IsMember(ctx, channel, session.UserID)
	if err != nil {
		h.logger.Warn().Err(err).Str("channel", channel).Msg("membership check failed")
		return errors.New("membership check failed")
	}
	if !member {
		return errChannelForbidden
	}
	return nil
}

func (h *Handler) reply(sub *Subscriber, event, channel, reason string) {
	frame, err := json.Marshal(ControlFrame{Event: event, Data: ControlData{Channel: channel, Error: reason}})
	if err != nil {
		return
	}
	sub.Send(frame)
}

func (h *Handler) emit(ctx context.Context, name string, info ConnInfo, reason string) {
	observability.IncWSEvent(name)
	if h.sink == nil {
		return
	}
	envelope := observability.NewWSEvent(name, info.ConnID, info.RequestID, info.TraceID, info.ConnectedAt, reason, observability.Identity{
		UserID:   info.UserID,
		DeviceID: info.DeviceID,
		IP:       info.IP,
	})
	if err := h.sink.Publish(context.WithoutCancel(ctx), wsRoutingKey, envelope); err != nil {
		observability.IncAMQPPublishError()
	}
}
