// Package cache defines the byte-oriented cache port shared by the chemistry
// result cache and the similarity snapshot, plus an in-process backend.
package cache

import (
	"context"
	"time"

	"github.com/turtacn/molingest/pkg/errors"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New(errors.ErrCodeNotFound, "cache miss")

// Cache stores opaque byte values with a time-to-live. A zero ttl means the
// backend default.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// Observer is notified of hits and misses. The Prometheus metrics implement
// it; nil is allowed.
type Observer interface {
	CacheHit(backend string)
	CacheMiss(backend string)
}

// Instrumented wraps c so every Get reports to obs under the backend label.
func Instrumented(c Cache, backend string, obs Observer) Cache {
	if obs == nil {
		return c
	}
	return &instrumented{inner: c, backend: backend, obs: obs}
}

type instrumented struct {
	inner   Cache
	backend string
	obs     Observer
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := i.inner.Get(ctx, key)
	switch {
	case err == nil:
		i.obs.CacheHit(i.backend)
	case IsMiss(err):
		i.obs.CacheMiss(i.backend)
	}
	return v, err
}

func (i *instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return i.inner.Set(ctx, key, value, ttl)
}

func (i *instrumented) Delete(ctx context.Context, keys ...string) error {
	return i.inner.Delete(ctx, keys...)
}
