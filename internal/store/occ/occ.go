// Package occ wraps single-entity read-modify-write cycles in an
// optimistic retry loop. The mutate callback always runs against the
// freshest read, so a lost race never replays a stale patch — the whole
// cycle re-runs from the read.
package occ

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	storedomain "github.com/classbridge/schoolops/internal/store/domain"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 100 * time.Millisecond
	defaultMaxBackoff  = 2 * time.Second
)

// ErrConcurrentModification is returned when every attempt lost its
// version race.
var ErrConcurrentModification = errors.New("concurrent modification")

// Mutate computes a patch from the freshest read of the record. It may
// return an error to abort the cycle without writing.
type Mutate func(current *storedomain.Record) (storedomain.Patch, error)

// Controller retries conditional updates with capped exponential
// backoff and jitter.
type Controller struct {
	store       storedomain.EntityStore
	log         *zap.Logger
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option tweaks controller behavior.
type Option func(*Controller)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff overrides the base and cap of the backoff schedule.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Controller) {
		if base > 0 {
			c.baseBackoff = base
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithSleeper replaces the delay function, used by tests to avoid real
// sleeps.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func New(store storedomain.EntityStore, log *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		log:         log.Named("occ"),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update runs the read-modify-write cycle until the conditional write
// lands or the attempt budget is spent. Only version conflicts are
// retried; any other error aborts immediately.
func (c *Controller) Update(ctx context.Context, tenantID string, key storedomain.Key, mutate Mutate) (*storedomain.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		current, err := c.store.Get(ctx, tenantID, key)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%s: %w", key, storedomain.ErrNotFound)
		}

		patch, err := mutate(current)
		if err != nil {
			return nil, err
		}

		updated, err := c.store.ConditionalUpdate(ctx, tenantID, key, patch, current.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, storedomain.ErrVersionConflict) {
			return nil, err
		}

		lastErr = err
		c.log.Debug("version conflict, retrying with fresh read",
			zap.String("tenant_id", tenantID),
			zap.String("key", key.String()),
			zap.Int("attempt", attempt),
		)
		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s after %d attempts: %w: %w",
		key, c.maxAttempts, lastErr, ErrConcurrentModification)
}

// backoff computes the capped exponential delay for an attempt with
// full jitter.
func (c *Controller) backoff(attempt int) time.Duration {
	d := c.baseBackoff << (attempt - 1)
	if d > c.maxBackoff || d <= 0 {
		d = c.maxBackoff
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
