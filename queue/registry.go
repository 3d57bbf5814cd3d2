package queue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tozny/localqueue/logging"
	"github.com/tozny/localqueue/stream"
)

// StoreFactory opens (creating if needed) the SequenceStore backing the named queue.
type StoreFactory func(ctx context.Context, name string) (SequenceStore, error)

// MemoryStoreFactory is a StoreFactory producing independent MemoryStores.
func MemoryStoreFactory(context.Context, string) (SequenceStore, error) {
	return NewMemoryStore(), nil
}

// RegistryConfig wraps configuration for a Registry
type RegistryConfig struct {
	Stores            StoreFactory     // Opens the store for each created queue
	VisibilityTimeout time.Duration    // Default for queues created without one
	RedeliveryRetry   time.Duration    // Passed through to every queue
	Logger            logging.Logger   // Logger to use for registry and queue trace logs
	Events            stream.Publisher // Optional sink for message lifecycle events
}

// Registry is the local Service implementation. It maps queue names to
// VisibilityQueues whose storage comes from a StoreFactory.
type Registry struct {
	config RegistryConfig
	mu     sync.RWMutex
	queues map[string]*VisibilityQueue
}

// NewRegistry returns an empty Registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Stores == nil {
		config.Stores = MemoryStoreFactory
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if config.Logger == nil {
		config.Logger = logging.NewNopLogger()
	}
	return &Registry{config: config, queues: map[string]*VisibilityQueue{}}
}

// Lookup returns the named queue or ErrorQueueNotFound.
func (r *Registry) Lookup(name string) (*VisibilityQueue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	if !ok {
		return nil, ErrorQueueNotFound
	}
	return q, nil
}

// CreateQueue idempotently creates the named queue. Creating an existing queue
// leaves it untouched.
func (r *Registry) CreateQueue(ctx context.Context, name string, visibilityTimeout time.Duration) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrorInvalidQueueName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[name]; ok {
		r.config.Logger.Infof("CreateQueue: queue %s already exists", name)
		return name, nil
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = r.config.VisibilityTimeout
	}
	store, err := r.config.Stores(ctx, name)
	if err != nil {
		r.config.Logger.Errorf("CreateQueue: error %s opening store for queue %s", err, name)
		return "", err
	}
	q, err := NewVisibilityQueue(ctx, VisibilityQueueConfig{
		Name:              name,
		Store:             store,
		VisibilityTimeout: visibilityTimeout,
		RedeliveryRetry:   r.config.RedeliveryRetry,
		Logger:            r.config.Logger,
		Events:            r.config.Events,
	})
	if err != nil {
		return "", err
	}
	r.queues[name] = q
	r.config.Logger.Debugf("CreateQueue: created queue %s with visibility timeout %s", name, visibilityTimeout)
	return name, nil
}

// Send appends body to the named queue.
func (r *Registry) Send(ctx context.Context, name string, body []byte) error {
	q, err := r.Lookup(name)
	if err != nil {
		return err
	}
	_, err = q.Send(ctx, body)
	return err
}

// Receive returns the next visible message of the named queue, or nil.
func (r *Registry) Receive(ctx context.Context, name string) (*Message, error) {
	q, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return q.Receive(ctx)
}

// Delete acknowledges a delivery from the named queue.
func (r *Registry) Delete(ctx context.Context, name, receiptHandle string) (bool, error) {
	q, err := r.Lookup(name)
	if err != nil {
		return false, err
	}
	return q.Delete(ctx, receiptHandle), nil
}

// ChangeVisibility re-arms the hidden period of an in-flight message of the named queue.
func (r *Registry) ChangeVisibility(_ context.Context, name, receiptHandle string, timeout time.Duration) (bool, error) {
	q, err := r.Lookup(name)
	if err != nil {
		return false, err
	}
	return q.ChangeVisibility(receiptHandle, timeout), nil
}

// QueueLength returns the number of visible messages in the named queue.
func (r *Registry) QueueLength(_ context.Context, name string) (int, error) {
	q, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	return q.Length(), nil
}

// ListQueues returns the names of all queues in lexical order.
func (r *Registry) ListQueues(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteQueue closes the named queue and drops its stored messages, returning
// false if no such queue exists.
func (r *Registry) DeleteQueue(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	q, ok := r.queues[name]
	delete(r.queues, name)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := q.Close(ctx); err != nil {
		return true, err
	}
	if dropper, ok := q.store.(Dropper); ok {
		if err := dropper.Drop(ctx); err != nil {
			r.config.Logger.Errorf("DeleteQueue: error %s dropping data of queue %s", err, name)
			return true, err
		}
	}
	return true, nil
}

// Close closes every queue, returning in-flight messages to their stores.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, q := range r.queues {
		if err := q.Close(context.Background()); err != nil {
			r.config.Logger.Errorf("Close: error %s closing queue %s", err, name)
		}
	}
}
