package mcpmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedQueryMemoizesPerPartition(t *testing.T) {
	t.Parallel()
	c := NewQueryCache()
	var fetches atomic.Int32
	fetch := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) {
			fetches.Add(1)
			return v, nil
		}
	}
	a := CacheKey{Kind: KindPrompts, Server: "a"}
	b := CacheKey{Kind: KindPrompts, Server: "b"}

	for i := 0; i < 3; i++ {
		got, err := cachedQuery(context.Background(), c, a, fetch("A"))
		require.NoError(t, err)
		assert.Equal(t, "A", got)
	}
	got, err := cachedQuery(context.Background(), c, b, fetch("B"))
	require.NoError(t, err)
	assert.Equal(t, "B", got)
	assert.EqualValues(t, 2, fetches.Load())
	assert.Equal(t, 2, c.Len())

	c.Invalidate("b")
	assert.Equal(t, []CacheKey{a}, c.Keys())
}

func TestCachedQueryDoesNotCacheErrors(t *testing.T) {
	t.Parallel()
	c := NewQueryCache()
	key := CacheKey{Kind: KindResources, Server: "a"}
	_, err := cachedQuery(context.Background(), c, key, func(context.Context) ([]string, error) {
		return nil, errors.New("down")
	})
	require.Error(t, err)
	assert.Zero(t, c.Len())

	got, err := cachedQuery(context.Background(), c, key, func(context.Context) ([]string, error) {
		return []string{"r"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, got)
}

func TestCachedQueryCollapsesConcurrentFetches(t *testing.T) {
	t.Parallel()
	c := NewQueryCache()
	key := CacheKey{Kind: KindPrompts, Server: "a"}
	release := make(chan struct{})
	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) {
		fetches.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	started := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			v, err := cachedQuery(context.Background(), c, key, fetch)
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	for i := 0; i < 8; i++ {
		<-started
	}
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, fetches.Load(), int32(8))
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateDuringFetchDropsResult(t *testing.T) {
	t.Parallel()
	c := NewQueryCache()
	key := CacheKey{Kind: KindPrompts, Server: "a"}
	_, err := cachedQuery(context.Background(), c, key, func(context.Context) (int, error) {
		c.Invalidate("a")
		return 1, nil
	})
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}

func TestCancelledCallerDoesNotFailCollapsedWaiters(t *testing.T) {
	t.Parallel()
	c := NewQueryCache()
	key := CacheKey{Kind: KindResources, Server: "a"}
	started := make(chan struct{})
	release := make(chan struct{})
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		if fetches.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return "listed", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cachedQuery(firstCtx, c, key, fetch)
		firstErr <- err
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		v, err := cachedQuery(context.Background(), c, key, fetch)
		assert.NoError(t, err)
		second <- v
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)
	assert.Equal(t, "listed", <-second)
	assert.EqualValues(t, 1, fetches.Load())
	assert.Equal(t, 1, c.Len())
}
