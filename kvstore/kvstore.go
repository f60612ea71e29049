// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package kvstore defines the boundary to the key-value store backing
// the delta bookkeeping, together with its Redis implementation. The
// gateway only ever needs four primitives: an atomic counter increment,
// a single-key read, a single-key write with expiry, and an ordered
// multi-key read.
package kvstore

import (
	"context"
	"time"
)

// Client exposes the key-value store operations the delta handler
// depends on. All operations take a context so callers can bound them
// with the per-request deadline.
type Client interface {
	// Incr atomically increments the integer stored at key and
	// returns the new value. The counter starts at zero for a
	// missing key, so the first increment returns 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Get returns the string stored at key. A missing or expired key
	// is reported with found=false and a nil error; only transport
	// or server failures produce an error.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetEx stores value at key with the given time to live. The TTL
	// must be positive; the store rejects non-positive expiries.
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error

	// MGet returns one slot per requested key, preserving the input
	// order. Missing or expired keys yield a nil slot, never an
	// error; an error is returned only if the operation fails as a
	// whole.
	MGet(ctx context.Context, keys ...string) ([]*string, error)

	// Close releases the underlying connections.
	Close() error
}
