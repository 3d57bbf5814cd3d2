// Package lifecycle groups the start up and shut down of long lived resources.
package lifecycle

import (
	"sync"

	"github.com/tozny/localqueue/logging"
)

// Initializer is the interface that initializes a resource of some kind.
type Initializer interface {
	Initialize()
}

// Closer is the interface that gracefully closes a resource of some kind.
type Closer interface {
	Close()
}

// InitializerCloser is the interface that both initializes and gracefully closes a
// resource of some kind.
type InitializerCloser interface {
	Initializer
	Closer
}

// CloseFunc is a function that gracefully shuts down a resource as a side effect.
type CloseFunc func()

// Close calls f.
func (f CloseFunc) Close() { f() }

// Manager allows multiple items needing initialization or shutdown to be
// managed as a group.
//
// Initialization items start immediately in their own go routine once added.
// Calling Wait blocks until all initialization functions are complete.
//
// Closers are queued up internally and run only when Close is called, one at a
// time in the reverse order they were added, so a resource is closed before the
// resources it was built on. Closers added after Close run immediately.
type Manager struct {
	logger  logging.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	closers []Closer
	closed  bool
}

// NewManager initializes a new lifecycle.Manager.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{logger: logger}
}

// ManageInitialization starts each initializer in parallel.
func (m *Manager) ManageInitialization(initializers ...Initializer) {
	for _, initializer := range initializers {
		m.wg.Add(1)
		go func(i Initializer) {
			defer m.wg.Done()
			i.Initialize()
		}(initializer)
	}
}

// ManageClose queues closers to run when Close is called.
func (m *Manager) ManageClose(closers ...Closer) {
	m.mu.Lock()
	if !m.closed {
		m.closers = append(m.closers, closers...)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	for _, closer := range closers {
		closer.Close()
	}
}

// ManageLifecycle manages both an item's initialization and close.
//
// The close method of the managed item is queued first so it is present even
// if something interrupts before initialization is complete.
func (m *Manager) ManageLifecycle(initializerClosers ...InitializerCloser) {
	for _, ic := range initializerClosers {
		m.ManageClose(ic)
		m.ManageInitialization(ic)
	}
}

// Wait blocks until every managed initializer has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close runs every queued closer and blocks until they are complete. Calling
// Close more than once is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	m.logger.Println("Shutting Down")
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
}
