package outbox

import (
	"strings"

	"chirpchat/internal/events"
)

// Task is one pending publish: an event destined for a single channel.
type Task struct {
	Channel string
	Event   events.Event
}

// Batch collects the publishes a write operation owes once it has persisted.
type Batch struct {
	Tasks []Task
}

// Add appends a publish of evt on channel.
func (b *Batch) Add(channel string, evt events.Event) {
	b.Tasks = append(b.Tasks, Task{Channel: channel, Event: evt})
}

// Len reports the number of pending tasks.
func (b Batch) Len() int {
	return len(b.Tasks)
}

// RoutingKey is the AMQP routing key used when mirroring an event,
// e.g. "chat_events.messages.new".
func RoutingKey(eventName string) string {
	return "chat_events." + strings.ReplaceAll(eventName, ":", ".")
}
