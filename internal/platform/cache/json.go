package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL applies when NewJSON receives a non-positive ttl.
const DefaultTTL = 5 * time.Minute

// LoadTimeout bounds a shared loader call. The call outlives any single caller.
const LoadTimeout = 10 * time.Second

// versionGrace keeps a version counter alive past every entry written under it.
const versionGrace = 24 * time.Hour

// JSON is a read-through cache storing values as JSON documents in Redis.
// Entries live under a per-key version; Invalidate bumps it so a load that
// started earlier can only write to a version nobody reads any more.
// A nil JSON or one without a client calls the loader directly.
type JSON struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewJSON wraps client with the given entry ttl.
func NewJSON(client *redis.Client, ttl time.Duration) *JSON {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JSON{client: client, ttl: ttl}
}

// Key joins parts with ':'.
func Key(parts ...any) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			out = append(out, v)
		case int64:
			out = append(out, strconv.FormatInt(v, 10))
		case int:
			out = append(out, strconv.Itoa(v))
		default:
			raw, _ := json.Marshal(v)
			out = append(out, string(raw))
		}
	}
	return strings.Join(out, ":")
}

// Version returns the current version of key. A key never invalidated is at 0.
func (c *JSON) Version(ctx context.Context, key string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// FetchJSON decodes the cached value at key into dest, populating it from loader on a
// miss. Concurrent misses for the same key share one loader call, which runs
// detached from the caller that started it.
func (c *JSON) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader)
	}
	ver, err := c.Version(ctx, key)
	if err != nil {
		// Redis down: serve from the store.
		return load(ctx, dest, loader)
	}
	entryKey := dataKey(key, ver)
	payload, err := c.client.Get(ctx, entryKey).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return load(ctx, dest, loader)
	}
	resultCh := c.group.DoChan(entryKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		value, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		_ = c.client.Set(loadCtx, entryKey, raw, c.ttl).Err()
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Invalidate bumps the version of every key so later reads miss.
func (c *JSON) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, versionKey(key))
			pipe.Expire(ctx, versionKey(key), c.ttl+LoadTimeout+versionGrace)
		}
		return nil
	})
	return err
}

func versionKey(key string) string {
	return key + ":ver"
}

func dataKey(key string, ver int64) string {
	return fmt.Sprintf("%s:v%d", key, ver)
}

func load(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
