package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chirpchat/internal/apperr"
	"chirpchat/internal/events"
	"chirpchat/internal/observability"
)

// Publisher delivers a single event to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, evt events.Event) error
}

// Mirror receives a copy of every delivered event. The rabbitmq publisher
// satisfies it.
type Mirror interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// MirroredEvent is the body written to the mirror for each delivered task.
type MirroredEvent struct {
	Channel    string `json:"channel"`
	Event      string `json:"event"`
	Data       any    `json:"data"`
	OccurredAt string `json:"occurred_at"`
}

// Dispatcher runs outbox batches. Tasks of a batch run concurrently and each
// failure is reported on its own; nothing is retried.
type Dispatcher struct {
	publisher Publisher
	mirror    Mirror
	logger    zerolog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher builds a dispatcher. mirror may be nil.
func NewDispatcher(publisher Publisher, logger zerolog.Logger, timeout time.Duration, mirror Mirror) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		publisher: publisher,
		mirror:    mirror,
		logger:    logger.With().Str("component", "outbox").Logger(),
		timeout:   timeout,
	}
}

// Dispatch publishes every task in the batch and waits for all of them. The
// returned slice holds one *apperr.DeliveryError per failed task.
func (d *Dispatcher) Dispatch(ctx context.Context, batch Batch) []error {
	if batch.Len() == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, task := range batch.Tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			if err := d.deliver(ctx, task); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()
	return errs
}

// Go dispatches the batch in the background on a detached context bounded by
// the dispatcher timeout. Use Wait to drain in-flight batches on shutdown.
func (d *Dispatcher) Go(batch Batch) {
	if batch.Len() == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.Dispatch(ctx, batch)
	}()
}

// Wait blocks until every batch started with Go has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, task Task) error {
	name := task.Event.Name()
	if err := d.publisher.Publish(ctx, task.Channel, task.Event); err != nil {
		derr := &apperr.DeliveryError{Channel: task.Channel, Event: name, Err: err}
		observability.IncPublish(name, "error")
		d.logger.Warn().Err(err).Str("channel", task.Channel).Str("event", name).Msg("event delivery failed")
		return derr
	}
	observability.IncPublish(name, "ok")

	if d.mirror != nil {
		body := MirroredEvent{
			Channel:    task.Channel,
			Event:      name,
			Data:       events.Payload(task.Event),
			OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := d.mirror.Publish(ctx, RoutingKey(name), body); err != nil {
			observability.IncAMQPPublishError()
			d.logger.Debug().Err(err).Str("event", name).Msg("event mirror failed")
		}
	}
	return nil
}
