package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loglane/loglane/internal/cache"
)

func testWorker(t *testing.T, broker cache.ListStore, opts ...WorkerOption) *Worker {
	t.Helper()

	consumer, err := NewConsumer(broker)
	require.NoError(t, err)
	worker, err := NewWorker(consumer, opts...)
	require.NoError(t, err)
	return worker
}

func TestWorkerDispatchesByKind(t *testing.T) {
	broker := cache.NewMemoryStore()
	producer, err := NewProducer(broker)
	require.NoError(t, err)
	worker := testWorker(t, broker)
	ctx := context.Background()

	var activations, resets []Job
	worker.Register(KindSendActivationEmail, func(ctx context.Context, job Job) error {
		activations = append(activations, job)
		return nil
	})
	worker.Register(KindSendPasswordResetEmail, func(ctx context.Context, job Job) error {
		resets = append(resets, job)
		return nil
	})

	require.NoError(t, producer.Enqueue(ctx, DefaultQueueName, Job{Kind: KindSendActivationEmail, Args: []string{"a"}}))
	require.NoError(t, producer.Enqueue(ctx, DefaultQueueName, Job{Kind: KindSendPasswordResetEmail, Args: []string{"r"}}))

	for {
		worked, err := worker.Tick(ctx)
		require.NoError(t, err)
		if !worked {
			break
		}
	}

	require.Len(t, activations, 1)
	require.Equal(t, []string{"a"}, activations[0].Args)
	require.Len(t, resets, 1)
	require.Equal(t, []string{"r"}, resets[0].Args)
}

func TestWorkerDropsFailedJob(t *testing.T) {
	broker := cache.NewMemoryStore()
	producer, err := NewProducer(broker)
	require.NoError(t, err)
	worker := testWorker(t, broker)
	ctx := context.Background()

	attempts := 0
	worker.Register(KindSendActivationEmail, func(ctx context.Context, job Job) error {
		attempts++
		return errors.New("smtp down")
	})

	require.NoError(t, producer.Enqueue(ctx, DefaultQueueName, Job{Kind: KindSendActivationEmail}))

	worked, err := worker.Tick(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	// Failed jobs are dropped, not redelivered.
	worked, err = worker.Tick(ctx)
	require.NoError(t, err)
	require.False(t, worked)
	require.Equal(t, 1, attempts)
}

func TestWorkerSkipsUnknownKindPayload(t *testing.T) {
	broker := cache.NewMemoryStore()
	worker := testWorker(t, broker)
	ctx := context.Background()

	payload := []byte(`{"kind":"send_carrier_pigeon","args":[],"enqueued_at":"2024-03-01T10:00:00Z"}`)
	require.NoError(t, broker.PushLeft(ctx, queueKeyPrefix+DefaultQueueName, payload))

	worked, err := worker.Tick(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	worked, err = worker.Tick(ctx)
	require.NoError(t, err)
	require.False(t, worked)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	broker := cache.NewMemoryStore()
	producer, err := NewProducer(broker)
	require.NoError(t, err)
	worker := testWorker(t, broker, WithPollInterval(5*time.Millisecond))

	done := make(chan Job, 1)
	worker.Register(KindSendActivationEmail, func(ctx context.Context, job Job) error {
		select {
		case done <- job:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() {
		finished <- worker.Run(ctx)
	}()

	require.NoError(t, producer.Enqueue(ctx, DefaultQueueName, Job{Kind: KindSendActivationEmail}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never processed the job")
	}

	cancel()
	select {
	case err := <-finished:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
