package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript is the whole admit+decrement step as one eval: lazy window
// reset, conditional consume, remaining and retry-after in a single reply.
// Times are unix milliseconds.
var admitScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if count == nil or start == nil or now - start >= window then
  redis.call('HSET', KEYS[1], 'count', 1, 'start', now)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, limit - 1, 0}
end
if count < limit then
  redis.call('HSET', KEYS[1], 'count', count + 1)
  return {1, limit - count - 1, 0}
end
return {0, 0, start + window - now}
`)

type RedisLedger struct {
	rdb    *redis.Client
	limits Limits
}

func NewRedisLedger(rdb *redis.Client, limits Limits) *RedisLedger {
	return &RedisLedger{rdb: rdb, limits: limits}
}

func (l *RedisLedger) Admit(ctx context.Context, id Identity, class Class) (Decision, error) {
	allowance, err := l.limits.Allowance(id, class)
	if err != nil {
		return Decision{}, err
	}

	res, err := admitScript.Run(ctx, l.rdb,
		[]string{counterKey(id, class)},
		time.Now().UnixMilli(),
		l.limits.Window.Milliseconds(),
		allowance,
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (l *RedisLedger) Remaining(ctx context.Context, id Identity, class Class) (int, error) {
	allowance, err := l.limits.Allowance(id, class)
	if err != nil {
		return 0, err
	}

	vals, err := l.rdb.HGetAll(ctx, counterKey(id, class)).Result()
	if err != nil {
		return 0, err
	}
	count, start, ok := parseCounter(vals)
	if !ok || time.Since(start) >= l.limits.Window {
		return allowance, nil
	}
	remaining := allowance - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func parseCounter(vals map[string]string) (count int, start time.Time, ok bool) {
	c, okC := vals["count"]
	s, okS := vals["start"]
	if !okC || !okS {
		return 0, time.Time{}, false
	}
	n, err := strconv.Atoi(c)
	if err != nil {
		return 0, time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return n, time.UnixMilli(ms), true
}
