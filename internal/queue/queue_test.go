package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loglane/loglane/internal/cache"
)

func testProducerConsumer(t *testing.T) (*Producer, *Consumer) {
	t.Helper()

	broker := cache.NewMemoryStore()
	producer, err := NewProducer(broker)
	require.NoError(t, err)
	consumer, err := NewConsumer(broker)
	require.NoError(t, err)
	return producer, consumer
}

func TestQueueRoundTrip(t *testing.T) {
	producer, consumer := testProducerConsumer(t)
	ctx := context.Background()

	enqueued := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	producer.now = func() time.Time { return enqueued }

	err := producer.Enqueue(ctx, DefaultQueueName, Job{
		Kind: KindSendActivationEmail,
		Args: []string{"fragment", "session-1", "user-1", "user@example.com"},
	})
	require.NoError(t, err)

	job, err := consumer.Dequeue(ctx, DefaultQueueName)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, KindSendActivationEmail, job.Kind)
	require.Equal(t, []string{"fragment", "session-1", "user-1", "user@example.com"}, job.Args)
	require.True(t, job.EnqueuedAt.Equal(enqueued))
}

func TestQueueEmptyDequeue(t *testing.T) {
	_, consumer := testProducerConsumer(t)

	job, err := consumer.Dequeue(context.Background(), DefaultQueueName)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestQueueFIFO(t *testing.T) {
	producer, consumer := testProducerConsumer(t)
	ctx := context.Background()

	first := Job{Kind: KindSendActivationEmail, Args: []string{"first"}}
	second := Job{Kind: KindSendPasswordResetEmail, Args: []string{"second"}}
	require.NoError(t, producer.Enqueue(ctx, DefaultQueueName, first))
	require.NoError(t, producer.Enqueue(ctx, DefaultQueueName, second))

	job, err := consumer.Dequeue(ctx, DefaultQueueName)
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, job.Args)

	job, err = consumer.Dequeue(ctx, DefaultQueueName)
	require.NoError(t, err)
	require.Equal(t, []string{"second"}, job.Args)
}

func TestQueueRejectsUnknownKindOnEnqueue(t *testing.T) {
	producer, _ := testProducerConsumer(t)

	err := producer.Enqueue(context.Background(), DefaultQueueName, Job{Kind: "send_carrier_pigeon"})
	require.ErrorIs(t, err, ErrUnknownJobKind)
}

func TestQueueReportsUnknownKindOnDequeue(t *testing.T) {
	broker := cache.NewMemoryStore()
	consumer, err := NewConsumer(broker)
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte(`{"kind":"send_carrier_pigeon","args":[],"enqueued_at":"2024-03-01T10:00:00Z"}`)
	require.NoError(t, broker.PushLeft(ctx, queueKeyPrefix+DefaultQueueName, payload))

	job, err := consumer.Dequeue(ctx, DefaultQueueName)
	require.ErrorIs(t, err, ErrUnknownJobKind)
	require.NotNil(t, job)
	require.Equal(t, Kind("send_carrier_pigeon"), job.Kind)

	// The malformed payload is consumed, not left to loop forever.
	job, err = consumer.Dequeue(ctx, DefaultQueueName)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestQueueIsolatedByName(t *testing.T) {
	producer, consumer := testProducerConsumer(t)
	ctx := context.Background()

	require.NoError(t, producer.Enqueue(ctx, "activation", Job{Kind: KindSendActivationEmail}))

	job, err := consumer.Dequeue(ctx, "password_reset")
	require.NoError(t, err)
	require.Nil(t, job)

	job, err = consumer.Dequeue(ctx, "activation")
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestQueueSingleDelivery(t *testing.T) {
	broker := cache.NewMemoryStore()
	producer, err := NewProducer(broker)
	require.NoError(t, err)
	ctx := context.Background()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		require.NoError(t, producer.Enqueue(ctx, DefaultQueueName, Job{
			Kind: KindSendActivationEmail,
			Args: []string{string(rune('a' + i%26))},
		}))
	}

	var (
		mu        sync.Mutex
		delivered int
		wg        sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		consumer, err := NewConsumer(broker)
		require.NoError(t, err)
		wg.Add(1)
		go func(c *Consumer) {
			defer wg.Done()
			for {
				job, err := c.Dequeue(ctx, DefaultQueueName)
				require.NoError(t, err)
				if job == nil {
					return
				}
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}(consumer)
	}
	wg.Wait()

	require.Equal(t, jobs, delivered)
}
