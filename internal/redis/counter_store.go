package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// incrWindowsScript atomically increments the per-window and per-day
// counters and arms their expiry when a counter is first created. The single
// script round trip is what makes check-and-consume indivisible: two racing
// requests for the same key each see their own post-increment count, never a
// shared stale read.
// KEYS: [1]=window counter, [2]=day counter
// ARGV: [1]=cost, [2]=window TTL seconds, [3]=day TTL seconds
var incrWindowsScript = goredis.NewScript(`
local m = redis.call('INCRBY', KEYS[1], ARGV[1])
if m == tonumber(ARGV[1]) then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
local d = redis.call('INCRBY', KEYS[2], ARGV[1])
if d == tonumber(ARGV[1]) then
  redis.call('EXPIRE', KEYS[2], ARGV[3])
end
return {m, d}
`)

// CounterStore is the Redis-backed shared counter store for the rate
// limiter. Counters are bucketed by window, so they expire on their own and
// need no sweeping.
type CounterStore struct {
	rdb *goredis.Client
}

// NewCounterStore creates a counter store on the given client.
func NewCounterStore(rdb *goredis.Client) *CounterStore {
	return &CounterStore{rdb: rdb}
}

// IncrWindows implements ratelimit.CounterStore.
func (s *CounterStore) IncrWindows(ctx context.Context, windowKey, dayKey string, cost int64, windowTTL, dayTTL time.Duration) (int64, int64, error) {
	result, err := incrWindowsScript.Run(ctx, s.rdb,
		[]string{windowKey, dayKey},
		cost,
		int64(windowTTL.Seconds()),
		int64(dayTTL.Seconds()),
	).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate window script failed: %w", err)
	}

	counts, ok := result.([]any)
	if !ok || len(counts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate window script result: %v", result)
	}
	window, ok1 := counts[0].(int64)
	day, ok2 := counts[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected rate window script result: %v", result)
	}

	return window, day, nil
}
