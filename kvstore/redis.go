// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kvstore

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection parameters for the Redis backed
// store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password is the optional server password.
	Password string

	// DB selects the Redis logical database.
	DB int
}

// Validate returns an error if the config cannot be used.
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.NotValidf("empty redis address")
	}
	if c.DB < 0 {
		return errors.NotValidf("redis database %d", c.DB)
	}
	return nil
}

type redisClient struct {
	client *redis.Client
}

// NewRedis returns a Client backed by the Redis server described by
// the supplied config.
func NewRedis(config RedisConfig) (Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &redisClient{
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
	}, nil
}

// Incr is part of the Client interface.
func (c *redisClient) Incr(ctx context.Context, key string) (int64, error) {
	value, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Annotatef(err, "incrementing %q", key)
	}
	return value, nil
}

// Get is part of the Client interface.
func (c *redisClient) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Annotatef(err, "reading %q", key)
	}
	return value, true, nil
}

// SetEx is part of the Client interface.
func (c *redisClient) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	if err := c.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return errors.Annotatef(err, "writing %q", key)
	}
	return nil
}

// MGet is part of the Client interface.
func (c *redisClient) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Annotatef(err, "reading %d keys", len(keys))
	}
	result := make([]*string, len(values))
	for i, value := range values {
		// go-redis reports a missing key as an untyped nil; present
		// values come back as strings.
		if s, ok := value.(string); ok {
			result[i] = &s
		}
	}
	return result, nil
}

// Close is part of the Client interface.
func (c *redisClient) Close() error {
	return errors.Trace(c.client.Close())
}
