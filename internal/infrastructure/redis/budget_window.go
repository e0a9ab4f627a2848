package redisstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"marketdata-etl/internal/infrastructure/ratelimit"

	"github.com/redis/go-redis/v9"
)

// fixedScript consumes a unit in the current window key or returns -1.
var fixedScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return -1
end
return n
`)

// slidingScript keeps one sorted-set member per admitted unit. It returns -1
// on admission, otherwise the milliseconds until the oldest unit expires.
var slidingScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
  return -1
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return tonumber(oldest[2]) + window - now
`)

// Window is a budget window shared by every process pointed at the same Redis.
type Window struct {
	Client *redis.Client
	Prefix string
	Name   string
	Budget ratelimit.Budget

	now func() time.Time
	seq atomic.Int64
}

var _ ratelimit.Window = (*Window)(nil)

func NewWindow(client *redis.Client, prefix, provider string, b ratelimit.Budget) *Window {
	return &Window{Client: client, Prefix: prefix, Name: provider, Budget: b, now: time.Now}
}

// WithClock replaces the time source used to place units in windows.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

func (w *Window) Allow(ctx context.Context) (bool, time.Duration, error) {
	if w.Budget.Kind == ratelimit.KindSliding {
		return w.allowSliding(ctx)
	}
	return w.allowFixed(ctx)
}

func (w *Window) allowFixed(ctx context.Context) (bool, time.Duration, error) {
	now := w.now()
	start := now.Truncate(w.Budget.Window)
	key := fmt.Sprintf("%s:%s:%d", w.Prefix, w.Name, start.UnixMilli())
	n, err := fixedScript.Run(ctx, w.Client, []string{key}, w.Budget.Limit, w.Budget.Window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, err
	}
	if n < 0 {
		return false, start.Add(w.Budget.Window).Sub(now), nil
	}
	return true, 0, nil
}

func (w *Window) allowSliding(ctx context.Context) (bool, time.Duration, error) {
	now := w.now()
	key := fmt.Sprintf("%s:%s:sliding", w.Prefix, w.Name)
	member := fmt.Sprintf("%d-%d", now.UnixNano(), w.seq.Add(1))
	ms, err := slidingScript.Run(ctx, w.Client, []string{key},
		now.UnixMilli(), w.Budget.Window.Milliseconds(), w.Budget.Limit, member).Int64()
	if err != nil {
		return false, 0, err
	}
	if ms < 0 {
		return true, 0, nil
	}
	return false, time.Duration(ms) * time.Millisecond, nil
}
