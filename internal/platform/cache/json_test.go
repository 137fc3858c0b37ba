package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T) (*JSON, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJSON(client, time.Minute), srv
}

func TestFetchJSONPopulatesOnMiss(t *testing.T) {
	c, srv := newTestCache(t)
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{ID: 7, Name: "JE-007"}, nil
	}

	var first, second payload
	require.NoError(t, c.FetchJSON(context.Background(), Key("ledger", "journal", int64(7)), &first, loader))
	require.NoError(t, c.FetchJSON(context.Background(), Key("ledger", "journal", int64(7)), &second, loader))

	require.Equal(t, 1, calls)
	require.Equal(t, first, second)
	require.True(t, srv.Exists("ledger:journal:7:v0"))
}

func TestInvalidateForcesReload(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{ID: int64(calls)}, nil
	}
	var out payload
	require.NoError(t, c.FetchJSON(context.Background(), "k", &out, loader))
	require.NoError(t, c.Invalidate(context.Background(), "k"))
	require.NoError(t, c.FetchJSON(context.Background(), "k", &out, loader))
	require.Equal(t, 2, calls)
	require.EqualValues(t, 2, out.ID)

	ver, err := c.Version(context.Background(), "k")
	require.NoError(t, err)
	require.EqualValues(t, 1, ver)
}

func TestInvalidateDuringLoadDiscardsStaleValue(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	loader := func(context.Context) (any, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-release
			return payload{ID: 1, Name: "stale"}, nil
		}
		return payload{ID: n, Name: "fresh"}, nil
	}

	done := make(chan error, 1)
	go func() {
		var out payload
		done <- c.FetchJSON(ctx, "k", &out, loader)
	}()
	<-started
	require.NoError(t, c.Invalidate(ctx, "k"))
	close(release)
	require.NoError(t, <-done)

	var out payload
	require.NoError(t, c.FetchJSON(ctx, "k", &out, loader))
	require.Equal(t, "fresh", out.Name)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchJSONLoaderOutlivesCancelledCaller(t *testing.T) {
	c, srv := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	loaderErr := make(chan error, 1)
	loader := func(loadCtx context.Context) (any, error) {
		close(started)
		<-release
		loaderErr <- loadCtx.Err()
		return payload{ID: 9, Name: "shared"}, nil
	}

	done := make(chan error, 1)
	go func() {
		var out payload
		done <- c.FetchJSON(ctx, "k", &out, loader)
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(release)
	require.NoError(t, <-loaderErr)
	require.Eventually(t, func() bool { return srv.Exists("k:v0") }, time.Second, 10*time.Millisecond)

	var out payload
	require.NoError(t, c.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return nil, errors.New("loader should not run")
	}))
	require.Equal(t, "shared", out.Name)
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	c, srv := newTestCache(t)
	boom := errors.New("boom")
	var out payload
	err := c.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, srv.Exists("k:v0"))
}

func TestNilCacheCallsLoader(t *testing.T) {
	var c *JSON
	var out payload
	require.NoError(t, c.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return payload{Name: "direct"}, nil
	}))
	require.Equal(t, "direct", out.Name)
	require.NoError(t, c.Invalidate(context.Background(), "k"))
}
