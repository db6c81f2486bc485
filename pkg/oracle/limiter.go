package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the limiter denies a call.
var ErrRateLimited = errors.New("oracle: rate limit exceeded")

// Limiter gates outbound oracle calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Limited wraps a Client with a Limiter. Limiter failures are reported as
// oracle failures of kind rate_limited.
type Limited struct {
	next    Client
	limiter Limiter
}

func NewLimited(next Client, limiter Limiter) *Limited {
	return &Limited{next: next, limiter: limiter}
}

func (l *Limited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", &Error{Kind: KindRateLimited, Err: err}
	}
	return l.next.Generate(ctx, prompt)
}

// LocalLimiter is a process-local token bucket.
type LocalLimiter struct {
	limiter *rate.Limiter
}

func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// redisTokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, microsecond precision)
// Returns {allowed, seconds until the next token}.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
local wait = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
else
    wait = (cost - tokens) / rate
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tostring(wait)}
`)

// RedisLimiter shares one token bucket between every process that uses the
// same key.
type RedisLimiter struct {
	client redis.Scripter
	key    string
	rps    float64
	burst  int
}

// NewRedisLimiter returns a limiter for key. The caller owns client.
func NewRedisLimiter(client redis.Scripter, key string, rps float64, burst int) *RedisLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RedisLimiter{client: client, key: "oracle:limiter:" + key, rps: rps, burst: burst}
}

// Allow consumes one token if available and reports how long to wait otherwise.
func (l *RedisLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{l.key}, l.rps, l.burst, 1, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, 0, fmt.Errorf("redis limiter: invalid script response")
	}
	allowed, _ := results[0].(int64)
	var wait float64
	if s, ok := results[1].(string); ok {
		_, _ = fmt.Sscanf(s, "%g", &wait)
	}
	return allowed == 1, time.Duration(wait * float64(time.Second)), nil
}

// Wait blocks until a token is granted or ctx is done.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %v", ErrRateLimited, ctx.Err())
		case <-t.C:
		}
	}
}
