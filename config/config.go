// Package config reads localqueue process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tozny/localqueue/cache"
	"github.com/tozny/localqueue/queue"
	"github.com/tozny/localqueue/queue/filestore"
	"github.com/tozny/localqueue/queue/redisstore"
)

// Backends selectable with LOCALQUEUE_BACKEND.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQS    = "sqs"
)

// Config wraps every setting of a localqueue process.
type Config struct {
	Backend           string
	Root              string // Storage root of the file backend
	VisibilityTimeout time.Duration
	LockPollInterval  time.Duration
	LockStaleAfter    time.Duration
	Fsync             bool
	HTTPAddress       string

	Redis          cache.Config
	RedisKeyPrefix string

	SQS queue.SQSConfig

	KafkaBrokers []string // Empty disables lifecycle events
	KafkaTopic   string

	LogLevel  string
	LogOutput string
	LogFormat string
}

// FromEnv builds a Config from environment variables, returning an error naming
// the first invalid or missing value.
func FromEnv() (Config, error) {
	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := EnvOrDefaultDuration(key, fallback)
		errs = append(errs, err)
		return d
	}
	boolean := func(key string, fallback bool) bool {
		b, err := EnvOrDefaultBool(key, fallback)
		errs = append(errs, err)
		return b
	}

	c := Config{
		Backend:           EnvOrDefault("LOCALQUEUE_BACKEND", BackendMemory),
		Root:              EnvOrDefault("LOCALQUEUE_ROOT", filepath.Join(os.TempDir(), "localqueue")),
		VisibilityTimeout: duration("LOCALQUEUE_VISIBILITY_TIMEOUT", queue.DefaultVisibilityTimeout),
		LockPollInterval:  duration("LOCALQUEUE_LOCK_POLL_INTERVAL", filestore.DefaultPollInterval),
		LockStaleAfter:    duration("LOCALQUEUE_LOCK_STALE_AFTER", filestore.DefaultStaleAfter),
		Fsync:             boolean("LOCALQUEUE_FSYNC", true),
		HTTPAddress:       EnvOrDefault("LOCALQUEUE_HTTP_ADDRESS", ":8080"),
		Redis: cache.Config{
			Address:            EnvOrDefault("REDIS_ADDRESS", ""),
			Password:           EnvOrDefault("REDIS_PASSWORD", ""),
			ClusterModeEnabled: boolean("REDIS_CLUSTER_MODE", false),
			TLSEnabled:         boolean("REDIS_TLS", false),
		},
		RedisKeyPrefix: EnvOrDefault("REDIS_KEY_PREFIX", redisstore.DefaultPrefix),
		SQS: queue.SQSConfig{
			SQSRegion:    EnvOrDefault("SQS_REGION", ""),
			SQSEndpoint:  EnvOrDefault("SQS_ENDPOINT", ""),
			APIKeyID:     EnvOrDefault("SQS_API_KEY_ID", ""),
			APIKeySecret: EnvOrDefault("SQS_API_KEY_SECRET", ""),
		},
		KafkaBrokers: EnvOrDefaultList("KAFKA_BROKERS", nil),
		KafkaTopic:   EnvOrDefault("KAFKA_TOPIC", "localqueue-events"),
		LogLevel:     EnvOrDefault("LOG_LEVEL", "INFO"),
		LogOutput:    EnvOrDefault("LOG_OUTPUT", "stdout"),
		LogFormat:    EnvOrDefault("LOG_FORMAT", "json"),
	}

	switch c.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		_, err := RequireEnv("REDIS_ADDRESS")
		errs = append(errs, err)
	case BackendSQS:
		_, err := RequireEnv("SQS_REGION")
		errs = append(errs, err)
	default:
		errs = append(errs, fmt.Errorf("unknown LOCALQUEUE_BACKEND %q", c.Backend))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FileStoreOptions returns the filestore options selected by c.
func (c Config) FileStoreOptions() filestore.Options {
	return filestore.Options{
		PollInterval: c.LockPollInterval,
		StaleAfter:   c.LockStaleAfter,
		NoSync:       !c.Fsync,
	}
}
