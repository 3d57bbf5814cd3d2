package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tozny/localqueue/logging"
	"github.com/tozny/localqueue/queue"
)

const (
	// DefaultPollInterval is how long a waiter sleeps between attempts to take the lock.
	DefaultPollInterval = 20 * time.Millisecond
	// DefaultStaleAfter is the age after which a held lock is presumed abandoned.
	DefaultStaleAfter = 30 * time.Second
)

// DirLock is an advisory mutex shared by every process that can see path.
// Holding the lock means having created the directory at path.
type DirLock struct {
	path         string
	pollInterval time.Duration
	staleAfter   time.Duration
	logger       logging.Logger
}

// NewDirLock returns a lock using the directory at path as its marker. A
// staleAfter of zero disables recovery of abandoned locks.
func NewDirLock(path string, pollInterval, staleAfter time.Duration, logger logging.Logger) *DirLock {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DirLock{path: path, pollInterval: pollInterval, staleAfter: staleAfter, logger: logger}
}

// Lock spins until the marker directory is created or ctx is done.
func (l *DirLock) Lock(ctx context.Context) error {
	for {
		err := os.Mkdir(l.path, 0o700)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return &queue.StorageError{Op: "lock", Path: l.path, Err: err}
		}
		if l.staleAfter > 0 && l.breakStale() {
			continue
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &queue.StorageError{Op: "lock", Path: l.path, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// Unlock removes the marker directory.
func (l *DirLock) Unlock() error {
	if err := os.Remove(l.path); err != nil {
		return &queue.StorageError{Op: "unlock", Path: l.path, Err: err}
	}
	return nil
}

// breakStale removes the marker if it is older than staleAfter. Breakers take a
// second marker at path.break first, so at most one waiter breaks the lock at a
// time, and the marker is only removed if it is still the one found stale.
func (l *DirLock) breakStale() bool {
	found, err := os.Stat(l.path)
	if err != nil || time.Since(found.ModTime()) < l.staleAfter {
		return false
	}
	breaker := l.path + ".break"
	if err := os.Mkdir(breaker, 0o700); err != nil {
		// A breaker that died mid-break leaves its marker behind.
		if info, statErr := os.Stat(breaker); statErr == nil && time.Since(info.ModTime()) >= l.staleAfter {
			l.logger.Warnf("DirLock: removing abandoned breaker %s", breaker)
			os.Remove(breaker)
		}
		return false
	}
	defer os.Remove(breaker)

	current, err := os.Stat(l.path)
	if err != nil {
		return true
	}
	if !os.SameFile(found, current) || time.Since(current.ModTime()) < l.staleAfter {
		return false
	}
	claimed := l.path + ".stale-" + uuid.NewString()
	if err := os.Rename(l.path, claimed); err != nil {
		return false
	}
	if moved, err := os.Stat(claimed); err == nil && !os.SameFile(current, moved) {
		// Only a holder outliving staleAfter can release and be replaced in between.
		l.logger.Errorf("DirLock: lock %s changed hands while being broken", l.path)
	}
	l.logger.Warnf("DirLock: broke lock %s held since %s", l.path, current.ModTime().Format(time.RFC3339))
	if err := os.RemoveAll(claimed); err != nil {
		l.logger.Errorf("DirLock: error %s removing stale lock %s", err, claimed)
	}
	return true
}
