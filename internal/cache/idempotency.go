// Package cache holds Redis-backed helpers for the order path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/stockroom/internal/config"
	"github.com/safar/stockroom/internal/database"
)

const (
	idempotencyKeyPrefix = "idem:order:"
	pendingMarker        = "pending"
)

// Idempotency remembers which order a client-supplied key produced, so a
// retried POST returns the first order instead of reserving stock twice.
type Idempotency struct {
	client     *redis.Client
	pendingTTL time.Duration
	ttl        time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewIdempotency keeps completed keys for ttl. An in-flight marker lives only
// for pendingTTL, so a key orphaned by a crash frees itself soon after the
// order deadline. pendingTTL <= 0 or above ttl falls back to ttl.
func NewIdempotency(client *redis.Client, pendingTTL, ttl time.Duration) *Idempotency {
	if pendingTTL <= 0 || pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &Idempotency{client: client, pendingTTL: pendingTTL, ttl: ttl}
}

func idempotencyKey(customerID int64, key string) string {
	return idempotencyKeyPrefix + strconv.FormatInt(customerID, 10) + ":" + key
}

// Reserve claims key for customerID. When the key was already completed it
// returns the stored order id and reserved=false. A key still in flight
// yields ErrDuplicateRequest.
func (i *Idempotency) Reserve(ctx context.Context, customerID int64, key string) (orderID int64, reserved bool, err error) {
	k := idempotencyKey(customerID, key)

	ok, err := i.client.SetNX(ctx, k, pendingMarker, i.pendingTTL).Result()
	if err != nil {
		return 0, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return 0, true, nil
	}

	value, err := i.client.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired or released between SETNX and GET.
			return i.Reserve(ctx, customerID, key)
		}
		return 0, false, fmt.Errorf("read idempotency key: %w", err)
	}
	if value == pendingMarker {
		return 0, false, database.ErrDuplicateRequest
	}

	orderID, err = strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse idempotency value %q: %w", value, err)
	}
	return orderID, false, nil
}

// Complete records the order produced for key.
func (i *Idempotency) Complete(ctx context.Context, customerID int64, key string, orderID int64) error {
	err := i.client.Set(ctx, idempotencyKey(customerID, key), strconv.FormatInt(orderID, 10), i.ttl).Err()
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release forgets key so the client may retry after a failed attempt.
func (i *Idempotency) Release(ctx context.Context, customerID int64, key string) error {
	if err := i.client.Del(ctx, idempotencyKey(customerID, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (i *Idempotency) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}
