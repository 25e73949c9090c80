package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loglane/loglane/internal/cache"
	"github.com/loglane/loglane/pkg/metrics"
)

const queueKeyPrefix = "queue:"

// Producer pushes jobs onto a named broker list. Delivery is at-least-once:
// the broker persists the payload until a consumer pops it.
type Producer struct {
	broker cache.ListStore
	now    func() time.Time
}

// ProducerOption customizes a Producer.
type ProducerOption func(*Producer)

// WithProducerClock overrides the enqueue timestamp source.
func WithProducerClock(now func() time.Time) ProducerOption {
	return func(p *Producer) {
		p.now = now
	}
}

func NewProducer(broker cache.ListStore, opts ...ProducerOption) (*Producer, error) {
	if broker == nil {
		return nil, fmt.Errorf("queue: broker is required")
	}
	p := &Producer{broker: broker, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Enqueue pushes job onto queueName. The job kind must be a known one: an
// unknown kind is a programming error surfaced immediately rather than a
// payload left for a consumer to choke on.
func (p *Producer) Enqueue(ctx context.Context, queueName string, job Job) error {
	if !job.Kind.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownJobKind, job.Kind)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}

	job.EnqueuedAt = p.now().UTC()
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	if err := p.broker.PushLeft(ctx, queueKeyPrefix+queueName, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	metrics.JobsEnqueued.WithLabelValues(string(job.Kind)).Inc()
	return nil
}

// Consumer pops jobs from a named broker list in FIFO order.
type Consumer struct {
	broker cache.ListStore
}

func NewConsumer(broker cache.ListStore) (*Consumer, error) {
	if broker == nil {
		return nil, fmt.Errorf("queue: broker is required")
	}
	return &Consumer{broker: broker}, nil
}

// Dequeue pops the oldest job from queueName. It returns (nil, nil) when the
// queue is empty. A payload naming an unknown kind is returned alongside
// ErrUnknownJobKind so the caller can log the loss; the payload is already off
// the broker and will not be redelivered.
func (c *Consumer) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}

	payload, found, err := c.broker.PopRight(ctx, queueKeyPrefix+queueName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if !found {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job: %w", err)
	}
	if !job.Kind.Known() {
		return &job, fmt.Errorf("%w: %q", ErrUnknownJobKind, job.Kind)
	}
	return &job, nil
}
