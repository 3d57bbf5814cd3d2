// Package redisstore keeps a queue's visible messages in a Redis list so that
// every process connected to the same Redis serves the same queue.
package redisstore

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/tozny/localqueue/logging"
	"github.com/tozny/localqueue/queue"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "localqueue"

// Options wraps configuration for a Store
type Options struct {
	Prefix string         // Key namespace, DefaultPrefix if empty
	Logger logging.Logger // Logger to use for storage trace logs
}

// Store is a queue.SequenceStore over one Redis list holding encoded records.
type Store struct {
	cmd    redis.Cmdable
	name   string
	prefix string
	logger logging.Logger
}

func (o Options) prefix() string {
	if o.Prefix == "" {
		return DefaultPrefix
	}
	return o.Prefix
}

func queuesKey(prefix string) string { return prefix + ":queues" }

// Open registers the named queue under the prefix and returns its Store.
func Open(ctx context.Context, cmd redis.Cmdable, name string, opts Options) (*Store, error) {
	if name == "" {
		return nil, queue.ErrorInvalidQueueName
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	s := &Store{cmd: cmd, name: name, prefix: opts.prefix(), logger: opts.Logger}
	if err := cmd.SAdd(ctx, queuesKey(s.prefix), name).Err(); err != nil {
		return nil, &queue.StorageError{Op: "open", Path: queuesKey(s.prefix), Err: err}
	}
	return s, nil
}

// Factory returns a queue.StoreFactory opening Stores on cmd.
func Factory(cmd redis.Cmdable, opts Options) queue.StoreFactory {
	return func(ctx context.Context, name string) (queue.SequenceStore, error) {
		return Open(ctx, cmd, name, opts)
	}
}

// Discover returns the names of the queues registered under the prefix in lexical order.
func Discover(ctx context.Context, cmd redis.Cmdable, opts Options) ([]string, error) {
	key := queuesKey(opts.prefix())
	names, err := cmd.SMembers(ctx, key).Result()
	if err != nil {
		return nil, &queue.StorageError{Op: "discover", Path: key, Err: err}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) messagesKey() string { return s.prefix + ":" + s.name + ":messages" }

// PushBack appends message to the tail of the list.
func (s *Store) PushBack(ctx context.Context, message queue.Message) error {
	if err := s.cmd.RPush(ctx, s.messagesKey(), queue.EncodeRecord(message)).Err(); err != nil {
		s.logger.Errorf("PushBack: error %s writing queue %s", err, s.name)
		return &queue.StorageError{Op: "push-back", Path: s.messagesKey(), Err: err}
	}
	return nil
}

// PushFront prepends message to the head of the list.
func (s *Store) PushFront(ctx context.Context, message queue.Message) error {
	if err := s.cmd.LPush(ctx, s.messagesKey(), queue.EncodeRecord(message)).Err(); err != nil {
		s.logger.Errorf("PushFront: error %s writing queue %s", err, s.name)
		return &queue.StorageError{Op: "push-front", Path: s.messagesKey(), Err: err}
	}
	return nil
}

// PopFront removes and returns the head of the list, or nil if it is empty.
// Undecodable entries are skipped and logged.
func (s *Store) PopFront(ctx context.Context) (*queue.Message, error) {
	for {
		record, err := s.cmd.LPop(ctx, s.messagesKey()).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			s.logger.Errorf("PopFront: error %s reading queue %s", err, s.name)
			return nil, &queue.StorageError{Op: "pop-front", Path: s.messagesKey(), Err: err}
		}
		message, err := queue.DecodeRecord(record)
		if err != nil {
			s.logger.Warnf("PopFront: discarding record of queue %s: %s", s.name, err)
			continue
		}
		return &message, nil
	}
}

// Len counts the decodable entries of the list. Entries PopFront would discard
// are not counted.
func (s *Store) Len(ctx context.Context) (int, error) {
	records, err := s.cmd.LRange(ctx, s.messagesKey(), 0, -1).Result()
	if err != nil {
		return 0, &queue.StorageError{Op: "len", Path: s.messagesKey(), Err: err}
	}
	count := 0
	for _, record := range records {
		if _, err := queue.DecodeRecord(record); err == nil {
			count++
		}
	}
	return count, nil
}

// Drop deletes the list and unregisters the queue.
func (s *Store) Drop(ctx context.Context) error {
	if err := s.cmd.Del(ctx, s.messagesKey()).Err(); err != nil {
		return &queue.StorageError{Op: "drop", Path: s.messagesKey(), Err: err}
	}
	if err := s.cmd.SRem(ctx, queuesKey(s.prefix), s.name).Err(); err != nil {
		return &queue.StorageError{Op: "drop", Path: queuesKey(s.prefix), Err: err}
	}
	return nil
}
