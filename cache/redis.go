// Package cache builds clients for the redis datastore shared by queue processes.
package cache

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/redis/go-redis/v9"
)

// ErrorNoAddress is returned when a client is requested without an address.
var ErrorNoAddress = errors.New("redis address is required")

// Config wraps configuration for a redis client.
type Config struct {
	Address            string
	Password           string
	ClusterModeEnabled bool
	TLSEnabled         bool
}

// NewClient returns a new redis client configured with the provided config.
func NewClient(config Config) (redis.UniversalClient, error) {
	if config.Address == "" {
		return nil, ErrorNoAddress
	}
	var tlsConfig *tls.Config
	if config.TLSEnabled {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if config.ClusterModeEnabled {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     []string{config.Address},
			Password:  config.Password,
			TLSConfig: tlsConfig,
		}), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:      config.Address,
		Password:  config.Password,
		TLSConfig: tlsConfig,
	}), nil
}

// Ping checks the client can reach redis.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	return client.Ping(ctx).Err()
}
