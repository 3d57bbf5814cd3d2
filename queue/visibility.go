package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tozny/localqueue/logging"
	"github.com/tozny/localqueue/stream"
)

const (
	// DefaultVisibilityTimeout is used when a queue is created without one.
	DefaultVisibilityTimeout = 30 * time.Second
	// DefaultRedeliveryRetry is how long a failed redelivery waits before trying again.
	DefaultRedeliveryRetry = time.Second
)

// VisibilityQueueConfig wraps configuration for a VisibilityQueue
type VisibilityQueueConfig struct {
	Name              string           // Name reported in logs and events
	Store             SequenceStore    // Holds the visible messages
	VisibilityTimeout time.Duration    // How long a received message stays hidden, DefaultVisibilityTimeout if not positive
	RedeliveryRetry   time.Duration    // Delay before retrying a redelivery that failed to reach the store
	Logger            logging.Logger   // Logger to use for queue trace logs
	Events            stream.Publisher // Optional sink for message lifecycle events
}

// inFlightRecord tracks one delivery between receive and delete or redelivery.
type inFlightRecord struct {
	message Message
	timer   *time.Timer
	seq     uint64 // receive order
}

// VisibilityQueue adds in-flight tracking and timed redelivery to a SequenceStore.
//
// A message is either visible (in the store) or in flight (tracked by exactly one
// record keyed by its current receipt handle). Delete and the redelivery timer race
// for the record under mu; whichever removes it first wins and the other is a no-op.
type VisibilityQueue struct {
	name            string
	store           SequenceStore
	logger          logging.Logger
	events          stream.Publisher
	redeliveryRetry time.Duration
	visible         atomic.Int64

	mu       sync.Mutex
	inFlight map[string]*inFlightRecord
	received uint64
	timeout  time.Duration
	closed   bool
}

// NewVisibilityQueue creates a queue over config.Store, returning error (if any)
// seeding its visible count from the store.
func NewVisibilityQueue(ctx context.Context, config VisibilityQueueConfig) (*VisibilityQueue, error) {
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if config.RedeliveryRetry <= 0 {
		config.RedeliveryRetry = DefaultRedeliveryRetry
	}
	if config.Logger == nil {
		config.Logger = logging.NewNopLogger()
	}
	if config.Events == nil {
		config.Events = stream.NoOpPublisher{}
	}
	q := &VisibilityQueue{
		name:            config.Name,
		store:           config.Store,
		logger:          config.Logger,
		events:          config.Events,
		redeliveryRetry: config.RedeliveryRetry,
		inFlight:        map[string]*inFlightRecord{},
		timeout:         config.VisibilityTimeout,
	}
	if sizer, ok := config.Store.(Sizer); ok {
		size, err := sizer.Len(ctx)
		if err != nil {
			return nil, err
		}
		q.visible.Store(int64(size))
	}
	return q, nil
}

// Name returns the name the queue was created with.
func (q *VisibilityQueue) Name() string { return q.name }

// Send appends a new message holding body to the tail of the queue.
func (q *VisibilityQueue) Send(ctx context.Context, body []byte) (Message, error) {
	if q.isClosed() {
		return Message{}, ErrorQueueClosed
	}
	id := uuid.New().String()
	message := Message{ID: id, ReceiptHandle: id, Body: body}
	if err := q.store.PushBack(ctx, message); err != nil {
		q.logger.Errorf("Send: error %s storing message for queue %s", err, q.name)
		return Message{}, err
	}
	q.visible.Add(1)
	q.publish(ctx, stream.EventSent, id)
	return message, nil
}

// Receive pops the head of the queue and hides it for the visibility timeout,
// returning nil if no message is visible. Each delivery gets a fresh receipt handle.
func (q *VisibilityQueue) Receive(ctx context.Context) (*Message, error) {
	if q.isClosed() {
		return nil, ErrorQueueClosed
	}
	message, err := q.store.PopFront(ctx)
	if err != nil {
		q.logger.Errorf("Receive: error %s popping message for queue %s", err, q.name)
		return nil, err
	}
	if message == nil {
		return nil, nil
	}
	q.visible.Add(-1)
	message.ReceiptHandle = uuid.New().String()
	record := &inFlightRecord{message: *message}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		// Lost a race with Close, hand the message back.
		if err := q.store.PushFront(context.Background(), record.message); err != nil {
			q.logger.Errorf("Receive: error %s restoring message %s to closed queue %s", err, message.ID, q.name)
			return nil, err
		}
		q.visible.Add(1)
		return nil, ErrorQueueClosed
	}
	q.received++
	record.seq = q.received
	q.inFlight[message.ReceiptHandle] = record
	record.timer = time.AfterFunc(q.timeout, func() { q.redeliver(record) })
	q.mu.Unlock()

	q.publish(ctx, stream.EventReceived, message.ID)
	return message, nil
}

// redeliver runs when a record's timer fires. It puts the message back on the head
// of the store unless Delete already claimed the record.
func (q *VisibilityQueue) redeliver(record *inFlightRecord) {
	handle := record.message.ReceiptHandle
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.inFlight[handle]; !ok || current != record {
		q.logger.Debugf("redeliver: message %s of queue %s already deleted", record.message.ID, q.name)
		return
	}
	if q.closed {
		return
	}
	if err := q.store.PushFront(context.Background(), record.message); err != nil {
		q.logger.Errorf("redeliver: error %s returning message %s to queue %s, retrying in %s",
			err, record.message.ID, q.name, q.redeliveryRetry)
		record.timer = time.AfterFunc(q.redeliveryRetry, func() { q.redeliver(record) })
		return
	}
	delete(q.inFlight, handle)
	q.visible.Add(1)
	q.logger.Debugf("redeliver: message %s of queue %s visible again", record.message.ID, q.name)
	go q.publish(context.Background(), stream.EventRedelivered, record.message.ID)
}

// Delete permanently removes the in-flight message identified by receiptHandle,
// returning false if the handle is unknown, already deleted or already redelivered.
func (q *VisibilityQueue) Delete(ctx context.Context, receiptHandle string) bool {
	q.mu.Lock()
	record, ok := q.inFlight[receiptHandle]
	if ok {
		delete(q.inFlight, receiptHandle)
		record.timer.Stop()
	}
	q.mu.Unlock()
	if !ok {
		q.logger.Debugf("Delete: no in-flight message for receipt handle %s in queue %s", receiptHandle, q.name)
		return false
	}
	q.publish(ctx, stream.EventDeleted, record.message.ID)
	return true
}

// ChangeVisibility restarts the hidden period of an in-flight message so it becomes
// visible after timeout from now, returning false if the handle is not in flight.
// A zero timeout makes the message visible immediately.
func (q *VisibilityQueue) ChangeVisibility(receiptHandle string, timeout time.Duration) bool {
	if timeout < 0 {
		timeout = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	record, ok := q.inFlight[receiptHandle]
	if !ok || q.closed {
		return false
	}
	if !record.timer.Stop() {
		// The timer fired and its callback is waiting for mu; it will redeliver.
		return false
	}
	record.timer = time.AfterFunc(timeout, func() { q.redeliver(record) })
	return true
}

// Length returns the number of visible messages.
func (q *VisibilityQueue) Length() int {
	return int(q.visible.Load())
}

// InFlight returns the number of received messages not yet deleted or redelivered.
func (q *VisibilityQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// VisibilityTimeout returns the timeout applied to future receives.
func (q *VisibilityQueue) VisibilityTimeout() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timeout
}

// SetVisibilityTimeout changes the timeout applied to future receives.
// Messages already in flight keep their current deadline.
func (q *VisibilityQueue) SetVisibilityTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timeout = timeout
}

// Close stops every pending redelivery and returns the in-flight messages to the
// head of the store so nothing received but unacknowledged is lost. They are
// restored in the order they were received, ahead of the visible messages.
func (q *VisibilityQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	records := make([]*inFlightRecord, 0, len(q.inFlight))
	for handle, record := range q.inFlight {
		record.timer.Stop()
		delete(q.inFlight, handle)
		records = append(records, record)
	}
	// Latest first, so the earliest received ends up at the head.
	sort.Slice(records, func(i, j int) bool { return records[i].seq > records[j].seq })
	var firstErr error
	for _, record := range records {
		if err := q.store.PushFront(ctx, record.message); err != nil {
			q.logger.Errorf("Close: error %s restoring message %s to queue %s", err, record.message.ID, q.name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		q.visible.Add(1)
	}
	return firstErr
}

func (q *VisibilityQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *VisibilityQueue) publish(ctx context.Context, kind string, messageID string) {
	err := q.events.Publish(ctx, stream.Event{
		Kind:      kind,
		Queue:     q.name,
		MessageID: messageID,
		Timestamp: time.Now(),
	})
	if err != nil {
		q.logger.Warnf("publish: error %s publishing %s event for message %s of queue %s", err, kind, messageID, q.name)
	}
}
