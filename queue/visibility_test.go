package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tozny/localqueue/stream"
)

func newTestQueue(t *testing.T, store SequenceStore, timeout time.Duration) *VisibilityQueue {
	q, err := NewVisibilityQueue(context.Background(), VisibilityQueueConfig{
		Name:              "test",
		Store:             store,
		VisibilityTimeout: timeout,
		RedeliveryRetry:   10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return q
}

func TestVisibilityQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), time.Minute)
	for i := 0; i < 10; i++ {
		_, err := q.Send(ctx, []byte(fmt.Sprint(i)))
		require.NoError(t, err)
	}
	require.Equal(t, 10, q.Length())
	for i := 0; i < 10; i++ {
		m, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.Equal(t, fmt.Sprint(i), string(m.Body))
	}
	require.Equal(t, 0, q.Length())
	require.Equal(t, 10, q.InFlight())
}

func TestVisibilityQueueHidesReceivedMessage(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), time.Minute)
	_, err := q.Send(ctx, []byte("A"))
	require.NoError(t, err)

	m, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestVisibilityQueueRedeliversOnceAtHead(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), 50*time.Millisecond)
	first, err := q.Send(ctx, []byte("first"))
	require.NoError(t, err)
	_, err = q.Send(ctx, []byte("second"))
	require.NoError(t, err)

	m, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, m.ID)

	require.Eventually(t, func() bool { return q.Length() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, q.InFlight())

	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, redelivered.ID)
	require.Equal(t, "first", string(redelivered.Body))
	require.NotEqual(t, m.ReceiptHandle, redelivered.ReceiptHandle)

	next, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", string(next.Body))

	none, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestVisibilityQueueDeleteBeforeTimeout(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), 50*time.Millisecond)
	_, err := q.Send(ctx, []byte("A"))
	require.NoError(t, err)
	m, err := q.Receive(ctx)
	require.NoError(t, err)

	require.True(t, q.Delete(ctx, m.ReceiptHandle))
	require.False(t, q.Delete(ctx, m.ReceiptHandle))

	time.Sleep(100 * time.Millisecond)
	none, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Nil(t, none)
	require.Equal(t, 0, q.Length())
	require.Equal(t, 0, q.InFlight())
}

func TestVisibilityQueueDeleteAfterTimeout(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), 20*time.Millisecond)
	_, err := q.Send(ctx, []byte("A"))
	require.NoError(t, err)
	m, err := q.Receive(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Length() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, q.Delete(ctx, m.ReceiptHandle))
	require.Equal(t, 1, q.Length())
}

func TestVisibilityQueueRejectsStaleReceiptHandle(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), 20*time.Millisecond)
	sent, err := q.Send(ctx, []byte("A"))
	require.NoError(t, err)
	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Length() == 1 }, time.Second, 5*time.Millisecond)

	q.SetVisibilityTimeout(time.Minute)
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, sent.ID, second.ID)

	require.False(t, q.Delete(ctx, sent.ReceiptHandle))
	require.False(t, q.Delete(ctx, first.ReceiptHandle))
	require.True(t, q.Delete(ctx, second.ReceiptHandle))
}

func TestVisibilityQueueScenario(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(RegistryConfig{})
	defer registry.Close()

	name, err := registry.CreateQueue(ctx, "q1", 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "q1", name)
	require.NoError(t, registry.Send(ctx, "q1", []byte("A")))

	m, err := registry.Receive(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, "A", string(m.Body))

	none, err := registry.Receive(ctx, "q1")
	require.NoError(t, err)
	require.Nil(t, none)

	time.Sleep(150 * time.Millisecond)
	again, err := registry.Receive(ctx, "q1")
	require.NoError(t, err)
	require.NotNil(t, again)
	require.Equal(t, "A", string(again.Body))

	deleted, err := registry.Delete(ctx, "q1", again.ReceiptHandle)
	require.NoError(t, err)
	require.True(t, deleted)

	none, err = registry.Receive(ctx, "q1")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestVisibilityQueueConcurrentSends(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), time.Minute)
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Send(ctx, []byte(fmt.Sprint(i)))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, q.Length())

	bodies := map[string]bool{}
	for i := 0; i < n; i++ {
		m, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.False(t, bodies[string(m.Body)])
		bodies[string(m.Body)] = true
	}
	require.Len(t, bodies, n)
}

func TestVisibilityQueueConcurrentDeleteAndRedeliveryNeverDuplicate(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), 5*time.Millisecond)
	const n = 50
	for i := 0; i < n; i++ {
		_, err := q.Send(ctx, []byte(fmt.Sprint(i)))
		require.NoError(t, err)
	}

	var deleted atomic.Int64
	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(2 * time.Second)
			for deleted.Load() < n && time.Now().Before(deadline) {
				m, err := q.Receive(ctx)
				if err != nil || m == nil {
					time.Sleep(time.Millisecond)
					continue
				}
				time.Sleep(4 * time.Millisecond)
				if q.Delete(ctx, m.ReceiptHandle) {
					deleted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, n, deleted.Load())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, q.Length())
	require.Equal(t, 0, q.InFlight())
}

func TestVisibilityQueueChangeVisibility(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewMemoryStore(), time.Minute)
	_, err := q.Send(ctx, []byte("A"))
	require.NoError(t, err)
	m, err := q.Receive(ctx)
	require.NoError(t, err)

	require.False(t, q.ChangeVisibility("unknown", 0))
	require.True(t, q.ChangeVisibility(m.ReceiptHandle, 0))
	require.Eventually(t, func() bool { return q.Length() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, time.Minute, q.VisibilityTimeout())
}

func TestVisibilityQueueCloseRestoresInFlight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q, err := NewVisibilityQueue(ctx, VisibilityQueueConfig{Name: "close", Store: store, VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	_, err = q.Send(ctx, []byte("A"))
	require.NoError(t, err)
	_, err = q.Send(ctx, []byte("B"))
	require.NoError(t, err)
	_, err = q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Close(ctx))
	size, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, size)

	_, err = q.Send(ctx, []byte("C"))
	require.ErrorIs(t, err, ErrorQueueClosed)
	_, err = q.Receive(ctx)
	require.ErrorIs(t, err, ErrorQueueClosed)

	head, err := store.PopFront(ctx)
	require.NoError(t, err)
	require.Equal(t, "A", string(head.Body))
}

func TestVisibilityQueueCloseRestoresInReceiveOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q, err := NewVisibilityQueue(ctx, VisibilityQueueConfig{Name: "order", Store: store, VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	bodies := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, body := range bodies {
		_, err := q.Send(ctx, []byte(body))
		require.NoError(t, err)
	}
	for range bodies[:6] {
		_, err := q.Receive(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, q.Close(ctx))
	for _, body := range bodies {
		m, err := store.PopFront(ctx)
		require.NoError(t, err)
		require.Equal(t, body, string(m.Body))
	}
}

func TestVisibilityQueueSeedsLengthFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.PushBack(ctx, Message{ID: "a", ReceiptHandle: "a"}))
	require.NoError(t, store.PushBack(ctx, Message{ID: "b", ReceiptHandle: "b"}))
	q := newTestQueue(t, store, time.Minute)
	require.Equal(t, 2, q.Length())
}

// flakyStore fails PushFront a configured number of times.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int64
}

func (s *flakyStore) PushFront(ctx context.Context, message Message) error {
	if s.failures.Add(-1) >= 0 {
		return &StorageError{Op: "push-front", Path: "flaky", Err: errors.New("disk full")}
	}
	return s.MemoryStore.PushFront(ctx, message)
}

func TestVisibilityQueueRetriesFailedRedelivery(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(2)
	q := newTestQueue(t, store, 10*time.Millisecond)
	_, err := q.Send(ctx, []byte("A"))
	require.NoError(t, err)
	_, err = q.Receive(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Length() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, q.InFlight())
}

// recordingPublisher keeps every published event kind.
type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) Publish(_ context.Context, event stream.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, event.Kind)
	return nil
}

func (p *recordingPublisher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.kinds...)
}

func TestVisibilityQueuePublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	events := &recordingPublisher{}
	q, err := NewVisibilityQueue(ctx, VisibilityQueueConfig{
		Name:              "events",
		Store:             NewMemoryStore(),
		VisibilityTimeout: 10 * time.Millisecond,
		Events:            events,
	})
	require.NoError(t, err)
	defer q.Close(ctx)

	_, err = q.Send(ctx, []byte("A"))
	require.NoError(t, err)
	_, err = q.Receive(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(events.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	m, err := q.Receive(ctx)
	require.NoError(t, err)
	require.True(t, q.Delete(ctx, m.ReceiptHandle))

	require.Equal(t, []string{
		stream.EventSent,
		stream.EventReceived,
		stream.EventRedelivered,
		stream.EventReceived,
		stream.EventDeleted,
	}, events.snapshot())
}
