package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var errQuotaReply = errors.New("invalid_shared_quota_reply")

// The bucket holds at most one token and refills at rate tokens per second,
// so replicas share a steady call rate rather than a burst allowance.
// Tokens are kept as a string so redis does not truncate the fraction.
const sharedQuotaScript = `
local rate = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = 1
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(1, tokens + (elapsed / 1000) * rate)
end

local granted = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {granted, tostring(tokens)}
`

// sharedQuota is the cross-replica part of the batch pacing.
type sharedQuota struct {
	client *redis.Client
	script *redis.Script
	key    string
	perSec float64
}

func newSharedQuota(client *redis.Client, key string, perMinute int) *sharedQuota {
	if client == nil || perMinute <= 0 {
		return nil
	}
	return &sharedQuota{
		client: client,
		script: redis.NewScript(sharedQuotaScript),
		key:    key,
		perSec: float64(perMinute) / 60,
	}
}

// take consumes one call from the quota. It returns zero when the call may
// proceed, otherwise how long until the next token is due.
func (q *sharedQuota) take(ctx context.Context) (time.Duration, error) {
	res, err := q.script.Run(ctx, q.client, []string{q.key}, q.perSec, quotaTTL(q.perSec).Milliseconds()).Slice()
	if err != nil {
		return 0, err
	}
	if len(res) < 2 {
		return 0, errQuotaReply
	}
	if granted, _ := res[0].(int64); granted == 1 {
		return 0, nil
	}
	missing := 1 - luaFloat(res[1])
	if missing <= 0 {
		return 0, nil
	}
	return time.Duration(missing / q.perSec * float64(time.Second)), nil
}

// quotaTTL keeps idle buckets around for two refill periods.
func quotaTTL(perSec float64) time.Duration {
	if perSec <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(2/perSec))
	return time.Duration(seconds) * time.Second
}

func luaFloat(v any) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case int64:
		return float64(val)
	default:
		return 0
	}
}
