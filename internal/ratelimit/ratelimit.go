package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// ErrRateLimited is matched by every *LimitError.
var ErrRateLimited = errors.New("rate limited")

// LimitError reports a rejected request and when the window resets.
type LimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, retry after %s", e.Limit, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold for a *LimitError.
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Decision is the outcome of one admission check. Window identifies the window the
// admission was counted in; it is zero when nothing was counted.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Window     int64
}

// allowScript admits a request only while the counter is below the limit, so rejected
// requests never consume quota. The counter is a hash of count and window id. The window
// id is written once, when the window opens, and the window's expiry starts with it. A
// counter found without an expiry is repaired.
var allowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

if redis.call('HSETNX', KEYS[1], 'window', ARGV[3]) == 1 then
	redis.call('PEXPIRE', KEYS[1], window)
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end

local id = tonumber(redis.call('HGET', KEYS[1], 'window'))
local current = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if current >= limit then
	return {0, current, ttl, id}
end

current = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, current, ttl, id}
`)

// Limiter is a fixed-window per-client limiter whose counters live in Redis.
type Limiter struct {
	client redis.Scripter
	window time.Duration
	now    func() time.Time
}

// NewLimiter creates a limiter with the given window length.
func NewLimiter(client redis.Scripter, window time.Duration) *Limiter {
	return &Limiter{client: client, window: window, now: time.Now}
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow admits one request for clientID if fewer than limit requests were admitted in the
// current window. limit <= 0 means unlimited. A rejection returns the decision together
// with a *LimitError.
func (l *Limiter) Allow(ctx context.Context, clientID string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: -1}, nil
	}

	values, err := allowScript.Run(ctx, l.client,
		[]string{keyPrefix + clientID},
		limit, l.window.Milliseconds(), l.now().UnixMicro(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if len(values) != 4 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", values)
	}

	decision := Decision{
		Allowed:    values[0] == 1,
		Count:      int(values[1]),
		Limit:      limit,
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}
	decision.Remaining = max(limit-decision.Count, 0)

	if !decision.Allowed {
		return decision, &LimitError{Limit: limit, RetryAfter: decision.RetryAfter}
	}
	decision.Window = values[3]
	return decision, nil
}

// refundScript returns one admission to the window it was counted in. A window that has
// since expired or been replaced is left untouched, and the count never drops below zero.
var refundScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], 'window')
if not id or id ~= ARGV[1] then
	return 0
end

local current = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if current <= 0 then
	return 0
end
return redis.call('HINCRBY', KEYS[1], 'count', -1)
`)

// Refund gives back the admission recorded by decision. It is used when a request turned
// out to have no effect, such as a duplicate submission. Decisions that counted nothing,
// or whose window already ended, are ignored.
func (l *Limiter) Refund(ctx context.Context, clientID string, decision Decision) error {
	if decision.Limit <= 0 || decision.Window == 0 {
		return nil
	}

	err := refundScript.Run(ctx, l.client,
		[]string{keyPrefix + clientID},
		strconv.FormatInt(decision.Window, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to refund rate limit: %w", err)
	}
	return nil
}
