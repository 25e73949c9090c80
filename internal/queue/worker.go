package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loglane/loglane/pkg/logger"
	"github.com/loglane/loglane/pkg/metrics"
)

// DefaultPollInterval is how long a worker sleeps after draining its queue.
const DefaultPollInterval = time.Second

// HandlerFunc processes one job. A returned error marks the job failed; the
// worker logs it and moves on. Failed jobs are not re-enqueued. Retry with
// backoff or a dead-letter list would slot in at Worker.process.
type HandlerFunc func(ctx context.Context, job Job) error

// Worker drains a queue, dispatching each job to the handler registered for
// its kind.
type Worker struct {
	consumer  *Consumer
	queueName string
	interval  time.Duration
	handlers  map[Kind]HandlerFunc
	log       *zap.Logger
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets the idle sleep between polls.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithQueueName points the worker at a queue other than the default.
func WithQueueName(name string) WorkerOption {
	return func(w *Worker) {
		if name != "" {
			w.queueName = name
		}
	}
}

func NewWorker(consumer *Consumer, opts ...WorkerOption) (*Worker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue: consumer is required")
	}
	w := &Worker{
		consumer:  consumer,
		queueName: DefaultQueueName,
		interval:  DefaultPollInterval,
		handlers:  make(map[Kind]HandlerFunc),
		log:       logger.WithModule("queue.worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Register binds handler to kind, replacing any previous binding. Not safe to
// call once Run has started.
func (w *Worker) Register(kind Kind, handler HandlerFunc) {
	w.handlers[kind] = handler
}

// Run polls the queue until ctx is cancelled. It drains available jobs before
// sleeping, so a burst is worked off without per-job poll delays.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		zap.String("queue", w.queueName),
		zap.Duration("poll_interval", w.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped", zap.String("queue", w.queueName))
			return ctx.Err()
		case <-timer.C:
		}

		for {
			worked, err := w.Tick(ctx)
			if err != nil {
				w.log.Error("queue poll failed", zap.Error(err))
				break
			}
			if !worked {
				break
			}
		}

		timer.Reset(w.interval)
	}
}

// Tick dequeues and processes at most one job. It reports whether a job was
// taken off the queue, including jobs that failed or had no handler.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	job, err := w.consumer.Dequeue(ctx, w.queueName)
	if errors.Is(err, ErrUnknownJobKind) {
		kind := Kind("")
		if job != nil {
			kind = job.Kind
		}
		w.log.Error("dropping job of unknown kind", zap.String("kind", string(kind)))
		metrics.JobsProcessed.WithLabelValues(string(kind), "unknown_kind").Inc()
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.process(ctx, *job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	handler, ok := w.handlers[job.Kind]
	if !ok {
		w.log.Error("no handler registered for kind", zap.String("kind", string(job.Kind)))
		metrics.JobsProcessed.WithLabelValues(string(job.Kind), "unknown_kind").Inc()
		return
	}

	if err := handler(ctx, job); err != nil {
		w.log.Error("job failed",
			zap.String("kind", string(job.Kind)),
			zap.Duration("queued_for", time.Since(job.EnqueuedAt)),
			zap.Error(err))
		metrics.JobsProcessed.WithLabelValues(string(job.Kind), "failure").Inc()
		return
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Kind), "success").Inc()
}
