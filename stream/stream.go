// Package stream provides definition and implementations of a Publisher for
// announcing queue message lifecycle events to a distributed streaming backend
// (e.g. Apache Kafka) as CloudEvents.
package stream

import (
	"context"
	"time"
)

// Kinds of message lifecycle events.
const (
	EventSent        = "sent"
	EventReceived    = "received"
	EventDeleted     = "deleted"
	EventRedelivered = "redelivered"
)

// EventTypePrefix is prepended to an event kind to form the CloudEvent type.
const EventTypePrefix = "io.tozny.localqueue.message."

// Event describes something that happened to one message of one queue.
type Event struct {
	Kind      string    // One of the Event* kinds
	Queue     string    // Name of the queue the message belongs to
	MessageID string    // Stable id assigned to the message on send
	Timestamp time.Time // When the event happened
}

// Publisher wraps functionality for publishing message lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoOpPublisher is a Publisher that drops every event.
type NoOpPublisher struct{}

// Publish does nothing.
func (NoOpPublisher) Publish(context.Context, Event) error {
	return nil
}
