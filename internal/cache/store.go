package cache

import (
	"context"
	"time"
)

// Store is the shared key-value interface used for ephemeral state such as
// session secrets.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// ListStore extends Store with FIFO list operations used by the job queue.
// PushLeft appends to the head of the named list; PopRight removes the
// oldest element from its tail.
type ListStore interface {
	Store
	PushLeft(ctx context.Context, key string, value []byte) error
	PopRight(ctx context.Context, key string) ([]byte, bool, error)
}
