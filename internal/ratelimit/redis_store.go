package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bezhas/chat-gatekeeper/internal/storage"
)

// Zset members need a uniqueness suffix so two events in the same
// millisecond both count
func randomMember() string {
	return uuid.NewString()
}

// Checks every sliding window (and the optional sum window) in key order and
// records the event into all of them only when every check passes. One script
// dispatch per decision keeps check-then-record serializable per user.
//
// KEYS: window keys, then the optional sum key.
// ARGV: now_ms, member, record, nwindows, then span_ms/limit per window,
// then sum_span_ms/add/max when a sum key is present.
// Reply: {allowed, failed_index (1-based, nwindows+1 for the sum), retry_ms,
// counts...}.
var allowWindowsScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
local record = ARGV[3] == '1'
local n = tonumber(ARGV[4])

local counts = {}
for i = 1, n do
    local span = tonumber(ARGV[3 + i*2])
    local limit = tonumber(ARGV[4 + i*2])
    local key = KEYS[i]

    redis.call('ZREMRANGEBYSCORE', key, 0, now - span)
    local c = redis.call('ZCARD', key)
    counts[i] = c

    if c >= limit then
        local retry = span
        local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
        if oldest[2] then
            retry = tonumber(oldest[2]) + span - now
        end
        return {0, i, math.ceil(retry), c}
    end
end

if #KEYS > n then
    local skey = KEYS[n + 1]
    local sspan = tonumber(ARGV[5 + n*2])
    local add = tonumber(ARGV[6 + n*2])
    local max = tonumber(ARGV[7 + n*2])

    redis.call('ZREMRANGEBYSCORE', skey, 0, now - sspan)
    local total = 0
    local entries = redis.call('ZRANGE', skey, 0, -1)
    for _, e in ipairs(entries) do
        local v = string.match(e, '^%d+:([%d%.]+):')
        if v then
            total = total + tonumber(v)
        end
    end

    if total + add > max then
        return {0, n + 1, sspan, 0}
    end

    if record and add > 0 then
        redis.call('ZADD', skey, now, now .. ':' .. add .. ':' .. member)
        redis.call('PEXPIRE', skey, sspan * 2)
    end
end

if record then
    for i = 1, n do
        local span = tonumber(ARGV[3 + i*2])
        redis.call('ZADD', KEYS[i], now, member)
        redis.call('PEXPIRE', KEYS[i], span * 2)
    end
end

local reply = {1, -1, 0}
for i = 1, n do
    reply[3 + i] = counts[i]
end
return reply
`)

type RedisStore struct {
	redis *storage.RedisClient
	now   func() time.Time
}

func NewRedisStore(redisClient *storage.RedisClient) *RedisStore {
	return &RedisStore{
		redis: redisClient,
		now:   time.Now,
	}
}

func (s *RedisStore) AllowWindows(ctx context.Context, windows []Window, sum *SumWindow, record bool) (*WindowVerdict, error) {
	now := s.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, randomMember())

	keys := make([]string, 0, len(windows)+1)
	argv := make([]interface{}, 0, 4+2*len(windows)+3)

	recordFlag := "0"
	if record {
		recordFlag = "1"
	}
	argv = append(argv, now, member, recordFlag, len(windows))

	for _, w := range windows {
		keys = append(keys, w.Key)
		argv = append(argv, w.Span.Milliseconds(), w.Limit)
	}

	if sum != nil {
		keys = append(keys, sum.Key)
		argv = append(argv, sum.Span.Milliseconds(), sum.Add, sum.Max)
	}

	raw, err := allowWindowsScript.Run(ctx, s.redis.Client(), keys, argv...).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit script failed: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 3 {
		return nil, fmt.Errorf("unexpected rate limit script reply: %v", raw)
	}

	verdict := &WindowVerdict{
		Allowed:     replyInt(reply[0]) == 1,
		FailedIndex: int(replyInt(reply[1])),
		Counts:      make([]int64, len(windows)),
	}

	if verdict.Allowed {
		for i := range windows {
			if 3+i < len(reply) {
				verdict.Counts[i] = replyInt(reply[3+i])
			}
		}
		return verdict, nil
	}

	// Lua indexes are 1-based
	verdict.FailedIndex--
	verdict.RetryAfter = time.Duration(replyInt(reply[2])) * time.Millisecond
	if verdict.FailedIndex >= 0 && verdict.FailedIndex < len(windows) && len(reply) > 3 {
		verdict.Counts[verdict.FailedIndex] = replyInt(reply[3])
	}

	return verdict, nil
}

func replyInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}

func (s *RedisStore) CountWindow(ctx context.Context, key string, span time.Duration) (int64, error) {
	now := s.now().UnixMilli()

	pipe := s.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now-span.Milliseconds(), 10))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return countCmd.Val(), nil
}

func (s *RedisStore) SumInWindow(ctx context.Context, key string, span time.Duration) (float64, error) {
	now := s.now().UnixMilli()
	windowStart := strconv.FormatInt(now-span.Milliseconds()+1, 10)

	entries, err := s.redis.Client().ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: windowStart,
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, err
	}

	var total float64
	for _, entry := range entries {
		total += parseSumEntry(entry)
	}

	return total, nil
}

// Sum entries look like "<ts>:<value>:<member>"
func parseSumEntry(entry string) float64 {
	first := -1
	second := -1
	for i := 0; i < len(entry); i++ {
		if entry[i] == ':' {
			if first == -1 {
				first = i
			} else {
				second = i
				break
			}
		}
	}
	if first == -1 {
		return 0
	}
	if second == -1 {
		second = len(entry)
	}

	value, err := strconv.ParseFloat(entry[first+1:second], 64)
	if err != nil {
		return 0
	}
	return value
}

func (s *RedisStore) RecordEvent(ctx context.Context, key string, span time.Duration) (int64, error) {
	now := s.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, randomMember())

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now-span.Milliseconds(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, span*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return countCmd.Val(), nil
}

func (s *RedisStore) IncrFixedWindow(ctx context.Context, key string, span time.Duration) (int64, time.Time, error) {
	count, err := s.redis.Incr(ctx, key)
	if err != nil {
		return 0, time.Time{}, err
	}

	if count == 1 {
		if err := s.redis.Client().PExpire(ctx, key, span).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return count, s.now().Add(span), nil
	}

	ttl, err := s.redis.PTTL(ctx, key)
	if err != nil || ttl < 0 {
		return count, s.now().Add(span), nil
	}

	return count, s.now().Add(ttl), nil
}

func (s *RedisStore) FixedWindowCount(ctx context.Context, key string) (int64, time.Time, error) {
	val, err := s.redis.Get(ctx, key)
	if err == redis.Nil {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	count, _ := strconv.ParseInt(val, 10, 64)

	ttl, err := s.redis.PTTL(ctx, key)
	if err != nil || ttl < 0 {
		return count, time.Time{}, nil
	}

	return count, s.now().Add(ttl), nil
}

func (s *RedisStore) ScanFixedWindows(ctx context.Context, pattern string) (map[string]FixedWindowStat, error) {
	stats := make(map[string]FixedWindowStat)

	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			count, resetAt, err := s.FixedWindowCount(ctx, key)
			if err != nil || count == 0 {
				continue
			}
			stats[key] = FixedWindowStat{Count: count, ResetAt: resetAt}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return stats, nil
}

func (s *RedisStore) GetPenalty(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, key)
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	expiryMs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}

	expiry := time.UnixMilli(expiryMs)
	if s.now().After(expiry) {
		return time.Time{}, false, nil
	}

	return expiry, true, nil
}

func (s *RedisStore) SetPenalty(ctx context.Context, key string, duration time.Duration) error {
	expiry := s.now().Add(duration).UnixMilli()
	return s.redis.Set(ctx, key, strconv.FormatInt(expiry, 10), duration)
}

func (s *RedisStore) ClearPenalty(ctx context.Context, key string) error {
	_, err := s.redis.Del(ctx, key)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.redis.Del(ctx, keys...)
}

func (s *RedisStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64

	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return deleted, err
		}

		if len(keys) > 0 {
			n, err := s.redis.Del(ctx, keys...)
			if err != nil {
				return deleted, err
			}
			deleted += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// Counters carry TTLs, so Redis expires them on its own; the sweep only
// removes keys that somehow lost their TTL.
func (s *RedisStore) PurgeExpired(ctx context.Context, pattern string) (int64, error) {
	var purged int64

	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return purged, err
		}

		for _, key := range keys {
			ttl, err := s.redis.PTTL(ctx, key)
			if err != nil {
				continue
			}
			if hasNoExpiry(ttl) {
				if _, err := s.redis.Del(ctx, key); err == nil {
					purged++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return purged, nil
}

// go-redis passes the PTTL sentinels through unscaled: a key with no TTL
// comes back as a raw -1 and a missing key as -2, never multiplied up to
// milliseconds.
func hasNoExpiry(ttl time.Duration) bool {
	return ttl == time.Duration(-1)
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
