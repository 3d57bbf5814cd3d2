// Command localqueue serves visibility timeout message queues over HTTP, backed by
// process memory, a shared storage root, redis or AWS SQS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tozny/localqueue/cache"
	"github.com/tozny/localqueue/config"
	"github.com/tozny/localqueue/lifecycle"
	"github.com/tozny/localqueue/logging"
	"github.com/tozny/localqueue/queue"
	"github.com/tozny/localqueue/queue/filestore"
	"github.com/tozny/localqueue/queue/redisstore"
	"github.com/tozny/localqueue/server"
	"github.com/tozny/localqueue/stream"
)

const serviceName = "localqueue"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("localqueue: invalid configuration: %s", err)
	}
	logger, err := logging.NewZapLogger(logging.ZapLoggerConfig{
		Output:      cfg.LogOutput,
		ServiceName: serviceName,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("localqueue: %s", err)
	}
	if err := run(cfg, logger); err != nil {
		logger.Errorf("localqueue: %s", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *logging.ZapLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := lifecycle.NewManager(logger)
	defer manager.Close()
	manager.ManageClose(lifecycle.CloseFunc(func() { logger.Sync() }))

	var events stream.Publisher = stream.NoOpPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := stream.NewKafkaPublisher(stream.KafkaPublisherConfig{
			BrokerEndpoints: cfg.KafkaBrokers,
			Topic:           cfg.KafkaTopic,
			Source:          serviceName,
			Logger:          logger.Named("events"),
		})
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		manager.ManageClose(publisher)
		events = publisher
	}

	service, err := newService(ctx, cfg, logger, events, manager)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg.HTTPAddress, server.NewHandler(service, serviceName, logger.Named("http")), logger)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.HTTPAddress, err)
	}
	manager.ManageLifecycle(srv)
	manager.Wait()

	select {
	case <-ctx.Done():
		logger.Infof("localqueue: received shutdown signal")
		return nil
	case err, ok := <-srv.Errors():
		if !ok {
			return nil
		}
		return err
	}
}

// newService builds the queue.Service selected by cfg.Backend, registering
// everything it opens with manager.
func newService(ctx context.Context, cfg config.Config, logger *logging.ZapLogger, events stream.Publisher, manager *lifecycle.Manager) (queue.Service, error) {
	registryConfig := queue.RegistryConfig{
		Stores:            queue.MemoryStoreFactory,
		VisibilityTimeout: cfg.VisibilityTimeout,
		Logger:            logger.Named("queue"),
		Events:            events,
	}
	var discover func(context.Context) ([]string, error)

	switch cfg.Backend {
	case config.BackendSQS:
		sqsConfig := cfg.SQS
		sqsConfig.Logger = logger.Named("sqs")
		return queue.NewSQSService(sqsConfig)
	case config.BackendFile:
		opts := cfg.FileStoreOptions()
		opts.Logger = logger.Named("filestore")
		registryConfig.Stores = filestore.Factory(cfg.Root, opts)
		discover = func(context.Context) ([]string, error) { return filestore.Discover(cfg.Root) }
		logger.Infof("localqueue: storing queues under %s", cfg.Root)
	case config.BackendRedis:
		client, err := cache.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		manager.ManageClose(lifecycle.CloseFunc(func() { client.Close() }))
		reachable := lifecycle.Await(func() bool {
			return cache.Ping(ctx, client) == nil
		}, 5, 500*time.Millisecond)
		if !reachable {
			return nil, errors.New("redis at " + cfg.Redis.Address + " is unreachable")
		}
		opts := redisstore.Options{Prefix: cfg.RedisKeyPrefix, Logger: logger.Named("redisstore")}
		registryConfig.Stores = redisstore.Factory(client, opts)
		discover = func(ctx context.Context) ([]string, error) { return redisstore.Discover(ctx, client, opts) }
	}

	registry := queue.NewRegistry(registryConfig)
	manager.ManageClose(lifecycle.CloseFunc(registry.Close))
	if discover == nil {
		return registry, nil
	}
	names, err := discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering persisted queues: %w", err)
	}
	for _, name := range names {
		if _, err := registry.CreateQueue(ctx, name, 0); err != nil {
			return nil, fmt.Errorf("restoring queue %s: %w", name, err)
		}
		logger.Infof("localqueue: restored queue %s", name)
	}
	return registry, nil
}
