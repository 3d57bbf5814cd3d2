package queue

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// MemoryStore is an in-process SequenceStore. All operations are O(1).
type MemoryStore struct {
	mu       sync.Mutex
	messages deque.Deque[Message]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// PushFront places message at the head of the store.
func (s *MemoryStore) PushFront(_ context.Context, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages.PushFront(message)
	return nil
}

// PushBack places message at the tail of the store.
func (s *MemoryStore) PushBack(_ context.Context, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages.PushBack(message)
	return nil
}

// PopFront removes and returns the head of the store, or nil if it is empty.
func (s *MemoryStore) PopFront(_ context.Context) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages.Len() == 0 {
		return nil, nil
	}
	message := s.messages.PopFront()
	return &message, nil
}

// Len returns the number of messages held.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.Len(), nil
}

// Drop discards all messages.
func (s *MemoryStore) Drop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages.Clear()
	return nil
}
