// Package redisstore provides a Redis-backed counter store.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/artpar/quotaguard/ports"
	"github.com/redis/go-redis/v9"
)

// admitScript checks every slot and, only if none is exhausted, increments
// all of them. Each counter is a hash {c: count, r: resetAt unix ms}.
//
// KEYS: counter keys in priority order.
// ARGV[1]: now (unix ms); then per slot: limit, fresh reset (unix ms), extra TTL (ms).
// Returns {allowed, count_1..count_n, reset_1..reset_n} with pre-increment counts.
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local n = #KEYS
local counts, resets, limits, extras = {}, {}, {}, {}
for i = 1, n do
	local base = 2 + (i - 1) * 3
	limits[i] = tonumber(ARGV[base])
	extras[i] = tonumber(ARGV[base + 2])
	local vals = redis.call('HMGET', KEYS[i], 'c', 'r')
	local c = tonumber(vals[1])
	local r = tonumber(vals[2])
	if c == nil or r == nil or r < now then
		c = 0
		r = tonumber(ARGV[base + 1])
	end
	counts[i] = c
	resets[i] = r
end

local allowed = 1
for i = 1, n do
	if counts[i] >= limits[i] then
		allowed = 0
		break
	end
end

if allowed == 1 then
	for i = 1, n do
		redis.call('HSET', KEYS[i], 'c', counts[i] + 1, 'r', resets[i])
		redis.call('PEXPIREAT', KEYS[i], resets[i] + extras[i])
	end
end

local out = {allowed}
for i = 1, n do out[#out + 1] = counts[i] end
for i = 1, n do out[#out + 1] = resets[i] end
return out
`)

// Config holds configuration for the Redis connection.
type Config struct {
	// URL is either a redis:// URL or a host:port address.
	URL      string
	Password string
	DB       int
	Prefix   string

	// QuotaRetention keeps quota buckets this long past their day's end.
	QuotaRetention time.Duration
}

// CounterStore is a Redis implementation of ports.CounterStore. Window
// counters expire with their reset instant, so Sweep and EvictQuota have
// nothing to do.
type CounterStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// New connects to Redis and returns a counter store.
func New(cfg Config) (*CounterStore, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "quotaguard:"
	}
	if cfg.QuotaRetention <= 0 {
		cfg.QuotaRetention = 48 * time.Hour
	}

	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL, Password: cfg.Password, DB: cfg.DB}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CounterStore{client: client, prefix: cfg.Prefix, retention: cfg.QuotaRetention}, nil
}

// Admit runs the check-and-increment script for slots.
func (s *CounterStore) Admit(ctx context.Context, slots []ratelimit.Slot, now time.Time) (ratelimit.Decision, error) {
	keys := make([]string, len(slots))
	args := make([]any, 0, 1+3*len(slots))
	args = append(args, now.UnixMilli())
	for i, sl := range slots {
		keys[i] = s.prefix + sl.Key
		var extra int64
		if sl.Kind == ratelimit.KindQuota {
			extra = s.retention.Milliseconds()
		}
		args = append(args, sl.Limit, sl.Fresh(now).ResetAt.UnixMilli(), extra)
	}

	vals, err := admitScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("redis admit failed: %w", err)
	}
	if len(vals) != 1+2*len(slots) {
		return ratelimit.Decision{}, fmt.Errorf("redis admit: unexpected reply length %d", len(vals))
	}

	counters := make([]ratelimit.Counter, len(slots))
	for i := range slots {
		counters[i] = ratelimit.Counter{
			Count:   vals[1+i],
			ResetAt: time.UnixMilli(vals[1+len(slots)+i]).UTC(),
		}
	}

	d := ratelimit.Decide(slots, counters)
	if d.Allowed != (vals[0] == 1) {
		return ratelimit.Decision{}, fmt.Errorf("redis admit: script and decision disagree")
	}
	return d, nil
}

// Peek returns a counter without changing it.
func (s *CounterStore) Peek(ctx context.Context, key string, now time.Time) (ratelimit.Counter, bool, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "c", "r").Result()
	if err != nil {
		return ratelimit.Counter{}, false, fmt.Errorf("redis get failed: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return ratelimit.Counter{}, false, nil
	}

	count, err := toInt64(vals[0])
	if err != nil {
		return ratelimit.Counter{}, false, fmt.Errorf("redis counter %s: %w", key, err)
	}
	reset, err := toInt64(vals[1])
	if err != nil {
		return ratelimit.Counter{}, false, fmt.Errorf("redis counter %s: %w", key, err)
	}

	c := ratelimit.Counter{Count: count, ResetAt: time.UnixMilli(reset).UTC()}
	if c.Expired(now) {
		return ratelimit.Counter{}, false, nil
	}
	return c, true, nil
}

func toInt64(v any) (int64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected field type %T", v)
	}
	return strconv.ParseInt(str, 10, 64)
}

// Sweep is a no-op: Redis expires window counters at their reset instant.
func (s *CounterStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// EvictQuota is a no-op: quota buckets expire QuotaRetention after their day ends.
func (s *CounterStore) EvictQuota(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

// Ping checks connectivity.
func (s *CounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases resources held by the Redis client.
func (s *CounterStore) Close() error {
	return s.client.Close()
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
