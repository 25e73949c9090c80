package queue

import (
	"errors"
	"time"
)

// DefaultQueueName is the list every notification job is pushed onto unless a
// caller routes to a dedicated queue.
const DefaultQueueName = "notifications"

// Kind identifies the work a job carries. The set is closed: a consumer that
// reads a kind it does not recognize reports it instead of guessing.
type Kind string

const (
	KindSendActivationEmail    Kind = "send_activation_email"
	KindSendPasswordResetEmail Kind = "send_password_reset_email"
)

// Known reports whether k is a kind this codebase can produce and handle.
func (k Kind) Known() bool {
	switch k {
	case KindSendActivationEmail, KindSendPasswordResetEmail:
		return true
	}
	return false
}

var (
	// ErrUnknownJobKind is returned when a dequeued payload names a kind no
	// handler is registered for.
	ErrUnknownJobKind = errors.New("queue: unknown job kind")

	// ErrQueueUnavailable wraps broker failures on enqueue and dequeue.
	ErrQueueUnavailable = errors.New("queue: broker unavailable")
)

// Job is the unit of work exchanged between producers and consumers. Args are
// positional and interpreted per kind by the registered handler.
type Job struct {
	Kind       Kind      `json:"kind"`
	Args       []string  `json:"args"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
