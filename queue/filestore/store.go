// Package filestore persists a queue's visible messages in a flat file, one
// encoded record per line, so that several processes sharing a storage root can
// serve the same queue. Every operation runs under a directory marker lock.
package filestore

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tozny/localqueue/logging"
	"github.com/tozny/localqueue/queue"
	"golang.org/x/crypto/blake2b"
)

const (
	messagesFile = "messages"
	nameFile     = "name"
	rejectedFile = "rejected"
	lockDir      = ".lock"
)

// Options wraps configuration for a Store
type Options struct {
	PollInterval time.Duration  // Sleep between lock attempts, DefaultPollInterval if not positive
	StaleAfter   time.Duration  // Age after which a lock is broken, zero never breaks locks
	NoSync       bool           // Skip fsync of rewritten and appended files
	Logger       logging.Logger // Logger to use for storage trace logs
}

// Store is a queue.SequenceStore over the messages file in one queue directory.
type Store struct {
	name       string
	dir        string
	lock       *DirLock
	noSync     bool
	logger     logging.Logger
	createTemp func(dir, pattern string) (*os.File, error)
}

// DirName returns the directory name under the storage root used for the named
// queue. Queue names are hashed so any name is path safe.
func DirName(name string) string {
	sum := blake2b.Sum256([]byte(name))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Open returns the Store for the named queue under root, creating its directory
// and empty messages file if they do not exist yet.
func Open(ctx context.Context, root, name string, opts Options) (*Store, error) {
	if name == "" {
		return nil, queue.ErrorInvalidQueueName
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	dir := filepath.Join(root, DirName(name))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &queue.StorageError{Op: "open", Path: dir, Err: err}
	}
	s := &Store{
		name:       name,
		dir:        dir,
		lock:       NewDirLock(filepath.Join(dir, lockDir), opts.PollInterval, opts.StaleAfter, opts.Logger),
		noSync:     opts.NoSync,
		logger:     opts.Logger,
		createTemp: os.CreateTemp,
	}
	err := s.locked(ctx, func() error {
		namePath := filepath.Join(dir, nameFile)
		existing, err := os.ReadFile(namePath)
		switch {
		case err == nil && string(existing) != name:
			return &queue.StorageError{Op: "open", Path: dir, Err: fmt.Errorf("directory belongs to queue %q", existing)}
		case errors.Is(err, fs.ErrNotExist):
			if err := os.WriteFile(namePath, []byte(name), 0o600); err != nil {
				return &queue.StorageError{Op: "open", Path: namePath, Err: err}
			}
		case err != nil:
			return &queue.StorageError{Op: "open", Path: namePath, Err: err}
		}
		f, err := os.OpenFile(s.path(messagesFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return &queue.StorageError{Op: "open", Path: s.path(messagesFile), Err: err}
		}
		return f.Close()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Factory returns a queue.StoreFactory opening Stores under root.
func Factory(root string, opts Options) queue.StoreFactory {
	return func(ctx context.Context, name string) (queue.SequenceStore, error) {
		return Open(ctx, root, name, opts)
	}
}

// Discover returns the names of the queues persisted under root in lexical order.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &queue.StorageError{Op: "discover", Path: root, Err: err}
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name, err := os.ReadFile(filepath.Join(root, entry.Name(), nameFile))
		if err != nil || len(name) == 0 {
			continue
		}
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names, nil
}

// Name returns the queue name this store was opened for.
func (s *Store) Name() string { return s.name }

// Dir returns the queue directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(file string) string { return filepath.Join(s.dir, file) }

// locked runs fn while holding the queue lock. A failed unlock is logged rather
// than returned, since fn has already committed its changes to the directory.
func (s *Store) locked(ctx context.Context, fn func() error) error {
	if err := s.lock.Lock(ctx); err != nil {
		s.logger.Errorf("Store: error %s locking queue %s", err, s.name)
		return err
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Errorf("Store: error %s unlocking queue %s", err, s.name)
		}
	}()
	return fn()
}

// PushBack appends message as the last line of the messages file.
func (s *Store) PushBack(ctx context.Context, message queue.Message) error {
	return s.locked(ctx, func() error {
		path := s.path(messagesFile)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
		if err != nil {
			return &queue.StorageError{Op: "push-back", Path: path, Err: err}
		}
		record := queue.EncodeRecord(message) + "\n"
		// A torn append from an interrupted writer must not swallow this record.
		if info, statErr := f.Stat(); statErr == nil && info.Size() > 0 {
			last := make([]byte, 1)
			if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
				record = "\n" + record
			}
		}
		_, err = f.WriteString(record)
		if err == nil && !s.noSync {
			err = f.Sync()
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			s.logger.Errorf("PushBack: error %s appending to queue %s", err, s.name)
			return &queue.StorageError{Op: "push-back", Path: path, Err: err}
		}
		return nil
	})
}

// PushFront rewrites the messages file with message as its first line.
func (s *Store) PushFront(ctx context.Context, message queue.Message) error {
	return s.locked(ctx, func() error {
		current, err := s.openMessages()
		if err != nil {
			return &queue.StorageError{Op: "push-front", Path: s.path(messagesFile), Err: err}
		}
		defer current.Close()
		err = s.replaceMessages(func(w io.Writer) error {
			if _, err := io.WriteString(w, queue.EncodeRecord(message)+"\n"); err != nil {
				return err
			}
			_, err := io.Copy(w, current)
			return err
		})
		if err != nil {
			s.logger.Errorf("PushFront: error %s rewriting queue %s", err, s.name)
			return &queue.StorageError{Op: "push-front", Path: s.path(messagesFile), Err: err}
		}
		return nil
	})
}

// PopFront removes and returns the first decodable record, or nil if there is
// none. Undecodable lines ahead of it are moved to the rejected file.
func (s *Store) PopFront(ctx context.Context) (*queue.Message, error) {
	var popped *queue.Message
	err := s.locked(ctx, func() error {
		current, err := s.openMessages()
		if err != nil {
			return &queue.StorageError{Op: "pop-front", Path: s.path(messagesFile), Err: err}
		}
		defer current.Close()
		reader := bufio.NewReader(current)
		var rejected []string
		for popped == nil {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				message, decodeErr := queue.DecodeRecord(line)
				if decodeErr != nil {
					s.logger.Warnf("PopFront: quarantining record of queue %s: %s", s.name, decodeErr)
					rejected = append(rejected, strings.TrimRight(line, "\n"))
				} else {
					popped = &message
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return &queue.StorageError{Op: "pop-front", Path: s.path(messagesFile), Err: err}
			}
		}
		if popped == nil && len(rejected) == 0 {
			return nil
		}
		if err := s.quarantine(rejected); err != nil {
			return err
		}
		err = s.replaceMessages(func(w io.Writer) error {
			_, err := io.Copy(w, reader)
			return err
		})
		if err != nil {
			popped = nil
			s.logger.Errorf("PopFront: error %s rewriting queue %s", err, s.name)
			return &queue.StorageError{Op: "pop-front", Path: s.path(messagesFile), Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return popped, nil
}

// Len counts the decodable records in the messages file. Lines PopFront would
// quarantine are not counted.
func (s *Store) Len(ctx context.Context) (int, error) {
	count := 0
	err := s.locked(ctx, func() error {
		current, err := s.openMessages()
		if err != nil {
			return &queue.StorageError{Op: "len", Path: s.path(messagesFile), Err: err}
		}
		defer current.Close()
		reader := bufio.NewReader(current)
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				if _, decodeErr := queue.DecodeRecord(line); decodeErr == nil {
					count++
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return &queue.StorageError{Op: "len", Path: s.path(messagesFile), Err: err}
			}
		}
	})
	return count, err
}

// Drop removes the queue directory and everything in it.
func (s *Store) Drop(ctx context.Context) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		s.lock.Unlock()
		return &queue.StorageError{Op: "drop", Path: s.dir, Err: err}
	}
	return nil
}

// openMessages opens the messages file for reading, treating a missing file as empty.
func (s *Store) openMessages() (io.ReadCloser, error) {
	f, err := os.Open(s.path(messagesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return f, err
}

// replaceMessages writes a temp file in the queue directory using fill and renames
// it over the messages file, so readers see either the old or the new content.
func (s *Store) replaceMessages(fill func(io.Writer) error) error {
	tmp, err := s.createTemp(s.dir, messagesFile+"-*.tmp")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !s.noSync {
		if err := tmp.Sync(); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(messagesFile)); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return err
	}
	committed = true
	return nil
}

// quarantine appends lines to the rejected file.
func (s *Store) quarantine(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	path := s.path(rejectedFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return &queue.StorageError{Op: "quarantine", Path: path, Err: err}
	}
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return &queue.StorageError{Op: "quarantine", Path: path, Err: err}
	}
	return nil
}
