package observability

import "time"

// EventEnvelope wraps operational events mirrored to the message broker.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	RequestID string      `json:"request_id,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// WSPayload describes one relay connection lifecycle event.
type WSPayload struct {
	Event      string   `json:"event"`
	ConnID     string   `json:"conn_id"`
	DurationMS int64    `json:"duration_ms"`
	Reason     string   `json:"reason"`
	Identity   Identity `json:"identity"`
}

type Identity struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

// NewWSEvent builds the envelope for a relay connection event.
func NewWSEvent(name, connID, requestID, traceID string, connectedAt time.Time, reason string, identity Identity) EventEnvelope {
	var duration int64
	if !connectedAt.IsZero() {
		duration = time.Since(connectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		RequestID: requestID,
		TraceID:   traceID,
		Payload: WSPayload{
			Event:      name,
			ConnID:     connID,
			DurationMS: duration,
			Reason:     reason,
			Identity:   identity,
		},
	}
}
