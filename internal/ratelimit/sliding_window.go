package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Sliding window over a ZSET keyed by attempt timestamps. The window slides
// continuously, so an attempt admitted at t counts against callers until
// t+window, not until some fixed boundary.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)

local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, now, member)
  redis.call("PEXPIRE", key, window)
  return {1, limit - count - 1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry = 0
if oldest[2] then
  retry = (tonumber(oldest[2]) + window) - now
  if retry < 0 then
    retry = 0
  end
end
return {0, 0, retry}
`

type SlidingWindow struct {
	client *redis.Client
	script *redis.Script
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Window     time.Duration
	RetryAfter time.Duration
}

func NewSlidingWindow(client *redis.Client) *SlidingWindow {
	if client == nil {
		return nil
	}
	return &SlidingWindow{
		client: client,
		script: redis.NewScript(slidingWindowScript),
	}
}

func (w *SlidingWindow) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*Decision, error) {
	if w == nil || w.client == nil {
		return nil, errors.New("rate limiter not configured")
	}
	if key == "" {
		return nil, errors.New("rate limiter key is empty")
	}
	if limit <= 0 {
		return nil, errors.New("rate limiter limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("rate limiter window must be positive")
	}

	res, err := w.script.Run(
		ctx,
		w.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) < 3 {
		return nil, errors.New("invalid rate limit script response")
	}

	decision := &Decision{
		Allowed:   castToInt(res[0]) == 1,
		Limit:     limit,
		Remaining: int(castToInt(res[1])),
		Window:    window,
	}
	if retryMillis := castToInt(res[2]); retryMillis > 0 {
		decision.RetryAfter = time.Duration(retryMillis) * time.Millisecond
	}
	return decision, nil
}

func (w *SlidingWindow) Reset(ctx context.Context, key string) error {
	if w == nil || w.client == nil {
		return errors.New("rate limiter not configured")
	}
	if key == "" {
		return errors.New("rate limiter key is empty")
	}
	return w.client.Del(ctx, key).Err()
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
