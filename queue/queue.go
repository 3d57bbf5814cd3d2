// Package queue provides definition and implementations of the Service interface
// for passing messages between workers with at-least-once, visibility timeout based
// delivery, backed interchangeably by in-process, file, redis or AWS SQS storage.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrorQueueNotFound is returned when operating on a queue name that was never created.
	ErrorQueueNotFound = errors.New("queue does not exist")
	// ErrorInvalidQueueName is returned when a queue name is empty or unusable.
	ErrorInvalidQueueName = errors.New("invalid queue name")
	// ErrorQueueClosed is returned by operations on a queue after Close.
	ErrorQueueClosed = errors.New("queue is closed")
)

// Message wraps data and metadata for a queue message
type Message struct {
	ID            string // Assigned once on send and never changed
	ReceiptHandle string // Identifies one delivery of this message, used to delete it
	Body          []byte // Caller provided content
}

// SequenceStore is the minimal double ended container a VisibilityQueue keeps its
// visible messages in. Implementations must be safe for concurrent callers.
// PopFront returns nil and no error when the store is empty.
type SequenceStore interface {
	PushFront(ctx context.Context, message Message) error
	PushBack(ctx context.Context, message Message) error
	PopFront(ctx context.Context) (*Message, error)
}

// Sizer is implemented by stores that can report how many messages they hold.
type Sizer interface {
	Len(ctx context.Context) (int, error)
}

// Dropper is implemented by stores that can permanently remove their backing data.
type Dropper interface {
	Drop(ctx context.Context) error
}

// Service is the contract every backend (in memory, file, redis or a passthrough
// to an externally managed queue) implements to be interchangeable.
type Service interface {
	// CreateQueue idempotently creates the named queue, returning its name.
	// A non positive visibilityTimeout selects the backend default.
	CreateQueue(ctx context.Context, name string, visibilityTimeout time.Duration) (string, error)
	Send(ctx context.Context, name string, body []byte) error
	// Receive returns the next visible message, or nil if there is none. It never waits.
	Receive(ctx context.Context, name string) (*Message, error)
	// Delete acknowledges one delivery. An unknown or expired receipt handle
	// returns false without an error.
	Delete(ctx context.Context, name, receiptHandle string) (bool, error)
	QueueLength(ctx context.Context, name string) (int, error)
	ListQueues(ctx context.Context) ([]string, error)
	DeleteQueue(ctx context.Context, name string) (bool, error)
}

// StorageError reports a lock or I/O fault in a persistent store.
type StorageError struct {
	Op   string // Operation being performed e.g. "pop-front"
	Path string // File or directory involved
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
