// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta_test

import (
	"context"
	"fmt"
	"time"
)

// fakeStore is an in-memory kvstore.Client recording the operations
// performed against it, with per-operation error injection.
type fakeStore struct {
	data     map[string]string
	sequence int64
	calls    []string

	incrErr error
	getErr  error
	setErr  error
	mgetErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (s *fakeStore) Incr(_ context.Context, key string) (int64, error) {
	s.calls = append(s.calls, "incr "+key)
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	s.sequence++
	return s.sequence, nil
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	s.calls = append(s.calls, "get "+key)
	if s.getErr != nil {
		return "", false, s.getErr
	}
	value, found := s.data[key]
	return value, found, nil
}

func (s *fakeStore) SetEx(_ context.Context, key string, ttl time.Duration, value string) error {
	s.calls = append(s.calls, fmt.Sprintf("setex %s %d", key, int64(ttl/time.Second)))
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *fakeStore) MGet(_ context.Context, keys ...string) ([]*string, error) {
	s.calls = append(s.calls, fmt.Sprintf("mget %d", len(keys)))
	if s.mgetErr != nil {
		return nil, s.mgetErr
	}
	result := make([]*string, len(keys))
	for i, key := range keys {
		if value, found := s.data[key]; found {
			v := value
			result[i] = &v
		}
	}
	return result, nil
}

func (s *fakeStore) Close() error {
	return nil
}
