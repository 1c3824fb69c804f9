package occ

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/classbridge/schoolops/internal/clock"
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
	"github.com/classbridge/schoolops/internal/store/gormstore"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) storedomain.EntityStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	s, err := gormstore.New(gdb, zap.NewNop(), clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return s
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

type counter struct {
	Count int `json:"count"`
}

func seed(t *testing.T, store storedomain.EntityStore, count int) storedomain.Key {
	t.Helper()
	key := storedomain.Key{PK: "STUDENT#a", SK: "PROFILE"}
	rec, err := storedomain.NewRecord("t1", key, "test", counter{Count: count}, storedomain.IndexKeys{}, "tester", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.PutIfAbsent(context.Background(), rec))
	return key
}

func TestUpdate_AppliesPatch(t *testing.T) {
	store := setupStore(t)
	key := seed(t, store, 5)
	c := New(store, zap.NewNop(), WithSleeper(noSleep))

	updated, err := c.Update(context.Background(), "t1", key, func(current *storedomain.Record) (storedomain.Patch, error) {
		var doc counter
		if err := current.Decode(&doc); err != nil {
			return storedomain.Patch{}, err
		}
		return storedomain.NewPatch("u").With("count", doc.Count+1), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	var doc counter
	require.NoError(t, updated.Decode(&doc))
	assert.Equal(t, 6, doc.Count)
}

func TestUpdate_LostRaceRetriesWithFreshRead(t *testing.T) {
	store := setupStore(t)
	key := seed(t, store, 5)
	c := New(store, zap.NewNop(), WithSleeper(noSleep))
	ctx := context.Background()

	// The first mutate sneaks in a competing writer before our write
	// lands; the retry must re-read and see the competitor's value.
	calls := 0
	updated, err := c.Update(ctx, "t1", key, func(current *storedomain.Record) (storedomain.Patch, error) {
		calls++
		if calls == 1 {
			_, err := store.ConditionalUpdate(ctx, "t1", key, storedomain.NewPatch("rival").With("count", 100), 0)
			require.NoError(t, err)
		}
		var doc counter
		if err := current.Decode(&doc); err != nil {
			return storedomain.Patch{}, err
		}
		return storedomain.NewPatch("u").With("count", doc.Count+1), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(3), updated.Version)

	var doc counter
	require.NoError(t, updated.Decode(&doc))
	assert.Equal(t, 101, doc.Count, "retry must build on the competitor's write, not the stale read")
}

func TestUpdate_ExhaustsAttempts(t *testing.T) {
	store := setupStore(t)
	key := seed(t, store, 0)
	ctx := context.Background()

	sleeps := 0
	c := New(store, zap.NewNop(),
		WithMaxAttempts(3),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			sleeps++
			return nil
		}),
	)

	calls := 0
	_, err := c.Update(ctx, "t1", key, func(current *storedomain.Record) (storedomain.Patch, error) {
		calls++
		_, uerr := store.ConditionalUpdate(ctx, "t1", key, storedomain.NewPatch("rival").With("count", calls*10), 0)
		require.NoError(t, uerr)
		return storedomain.NewPatch("u").With("count", -1), nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.ErrorIs(t, err, storedomain.ErrVersionConflict)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, sleeps, "no sleep after the final attempt")
}

func TestUpdate_MutateErrorAborts(t *testing.T) {
	store := setupStore(t)
	key := seed(t, store, 5)
	c := New(store, zap.NewNop(), WithSleeper(noSleep))

	boom := errors.New("invalid transition")
	calls := 0
	_, err := c.Update(context.Background(), "t1", key, func(current *storedomain.Record) (storedomain.Patch, error) {
		calls++
		return storedomain.Patch{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	got, err := store.Get(context.Background(), "t1", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version, "aborted cycle must not write")
}

func TestUpdate_MissingRecord(t *testing.T) {
	store := setupStore(t)
	c := New(store, zap.NewNop(), WithSleeper(noSleep))

	_, err := c.Update(context.Background(), "t1", storedomain.Key{PK: "STUDENT#ghost", SK: "PROFILE"}, func(*storedomain.Record) (storedomain.Patch, error) {
		t.Fatal("mutate must not run for a missing record")
		return storedomain.Patch{}, nil
	})
	assert.ErrorIs(t, err, storedomain.ErrNotFound)
}

type brokenStore struct {
	storedomain.EntityStore
}

func (brokenStore) ConditionalUpdate(ctx context.Context, tenantID string, key storedomain.Key, patch storedomain.Patch, expectedVersion int64) (*storedomain.Record, error) {
	return nil, fmt.Errorf("write: %w", storedomain.ErrStoreUnavailable)
}

func TestUpdate_BackendErrorNotRetried(t *testing.T) {
	store := setupStore(t)
	key := seed(t, store, 5)

	sleeps := 0
	c := New(brokenStore{store}, zap.NewNop(), WithSleeper(func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}))

	_, err := c.Update(context.Background(), "t1", key, func(current *storedomain.Record) (storedomain.Patch, error) {
		return storedomain.NewPatch("u").With("count", 1), nil
	})
	assert.ErrorIs(t, err, storedomain.ErrStoreUnavailable)
	assert.Equal(t, 0, sleeps)
}

func TestBackoff_CappedAndPositive(t *testing.T) {
	c := New(setupStore(t), zap.NewNop(), WithBackoff(100*time.Millisecond, 2*time.Second))
	for attempt := 1; attempt <= 20; attempt++ {
		for i := 0; i < 100; i++ {
			d := c.backoff(attempt)
			assert.Greater(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 2*time.Second)
		}
	}
}
