package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript runs the whole admission check for one key atomically on the server.
// Scores are unix milliseconds. Returns {allowed, count, reason, oldest_relevant_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local burst_window = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local burst = tonumber(ARGV[5])
local member = ARGV[6]

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))

local burst_events = redis.call('ZRANGEBYSCORE', key, '(' .. (now - burst_window), '+inf', 'LIMIT', 0, 1, 'WITHSCORES')
local burst_count = redis.call('ZCOUNT', key, '(' .. (now - burst_window), '+inf')
if burst_count >= burst then
  local oldest = 0
  if #burst_events > 0 then oldest = tonumber(burst_events[2]) end
  return {0, redis.call('ZCARD', key), 1, oldest}
end

local total = redis.call('ZCARD', key)
if total >= limit then
  local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local oldest = 0
  if #first > 0 then oldest = tonumber(first[2]) end
  return {0, total, 2, oldest}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, total + 1, 0, 0}
`)

// RedisConfig configures the shared Redis limiter
type RedisConfig struct {
	Limits    Config
	KeyPrefix string
}

/* RedisSlidingWindow shares one sliding window per key across gateway replicas */
type RedisSlidingWindow struct {
	client    redis.UniversalClient
	cfg       Config
	keyPrefix string
	clock     clock.Clock
	logger    *logging.Logger
}

/* NewRedisSlidingWindow creates a Redis backed limiter */
func NewRedisSlidingWindow(client redis.UniversalClient, cfg RedisConfig, clk clock.Clock, logger *logging.Logger) *RedisSlidingWindow {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "neurongateway:ratelimit:"
	}
	return &RedisSlidingWindow{
		client:    client,
		cfg:       cfg.Limits.withDefaults(),
		keyPrefix: prefix,
		clock:     clk,
		logger:    logger,
	}
}

// Limit returns the per-window ceiling
func (l *RedisSlidingWindow) Limit() int {
	return l.cfg.RequestsPerMinute
}

// Allow admits and records in one round trip. Redis failures fail open.
func (l *RedisSlidingWindow) Allow(ctx context.Context, key string) Decision {
	now := l.clock.Now()
	d := Decision{
		Limit:   l.cfg.RequestsPerMinute,
		ResetAt: now.Add(l.cfg.Window),
	}

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.keyPrefix + key},
		now.UnixMilli(),
		l.cfg.Window.Milliseconds(),
		l.cfg.BurstWindow.Milliseconds(),
		l.cfg.RequestsPerMinute,
		l.cfg.BurstSize,
		fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	).Int64Slice()
	if err != nil || len(res) != 4 {
		l.logger.Warn("Rate limit store unavailable, allowing request", map[string]interface{}{
			"key":   key,
			"error": fmt.Sprint(err),
		})
		d.Allowed = true
		d.Remaining = l.cfg.RequestsPerMinute
		return d
	}

	if res[0] == 1 {
		d.Allowed = true
		d.Remaining = max(0, l.cfg.RequestsPerMinute-int(res[1]))
		return d
	}

	oldest := time.UnixMilli(res[3])
	switch res[2] {
	case 1:
		d.Reason = ReasonBurst
		if res[3] > 0 {
			d.RetryAfter = oldest.Add(l.cfg.BurstWindow).Sub(now)
		}
	default:
		d.Reason = ReasonWindow
		if res[3] > 0 {
			d.RetryAfter = oldest.Add(l.cfg.Window).Sub(now)
		}
	}
	return d
}

// Reset forgets key
func (l *RedisSlidingWindow) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.keyPrefix+key).Err()
}
