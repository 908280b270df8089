package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/autoapply/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	hourMs = int64(time.Hour / time.Millisecond)
	dayMs  = int64(24 * time.Hour / time.Millisecond)
)

// tryConsumeScript prunes admissions older than a day, counts both rolling
// windows and records the admission if neither window is full. An
// admission stops counting exactly one window after it happened.
// ARGV: [1]=now_ms, [2]=hourly, [3]=daily, [4]=member, [5]=hour_ms, [6]=day_ms
// Returns {allowed, hour_count, day_count, retry_at_ms}.
var tryConsumeScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local hourly = tonumber(ARGV[2])
local daily = tonumber(ARGV[3])
local hour_ms = tonumber(ARGV[5])
local day_ms = tonumber(ARGV[6])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - day_ms)
local day = redis.call('ZCARD', KEYS[1])
local hour = redis.call('ZCOUNT', KEYS[1], '(' .. (now - hour_ms), '+inf')
if hour >= hourly or day >= daily then
  local retry = 0
  if hour >= hourly then
    local e = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. (now - hour_ms), '+inf', 'WITHSCORES', 'LIMIT', hour - hourly, 1)
    if e[2] then retry = tonumber(e[2]) + hour_ms end
  end
  if day >= daily then
    local e = redis.call('ZRANGE', KEYS[1], day - daily, day - daily, 'WITHSCORES')
    if e[2] and tonumber(e[2]) + day_ms > retry then retry = tonumber(e[2]) + day_ms end
  end
  return {0, hour, day, retry}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], day_ms)
return {1, hour + 1, day + 1, 0}
`)

// BudgetLedger implements domain.BudgetLedger on one sorted set per
// platform, so several processes share the same budget.
type BudgetLedger struct {
	rdb *goredis.Client
}

func NewBudgetLedger(rdb *goredis.Client) *BudgetLedger {
	return &BudgetLedger{rdb: rdb}
}

func budgetKey(platform string) string {
	return keyPrefix + "budget:" + platform
}

func (l *BudgetLedger) TryConsume(ctx context.Context, platform string, now time.Time, limits domain.BudgetLimits) (domain.Admission, error) {
	res, err := tryConsumeScript.Run(ctx, l.rdb, []string{budgetKey(platform)},
		now.UnixMilli(),
		limits.Hourly,
		limits.Daily,
		strconv.FormatInt(now.UnixMilli(), 10)+"-"+uuid.NewString(),
		hourMs,
		dayMs,
	).Int64Slice()
	if err != nil {
		return domain.Admission{}, fmt.Errorf("try consume script failed: %w", err)
	}
	if len(res) != 4 {
		return domain.Admission{}, fmt.Errorf("try consume script returned %d values", len(res))
	}

	adm := domain.Admission{
		Allowed: res[0] == 1,
		Budget:  remaining(res[1], res[2], limits),
	}
	if !adm.Allowed && res[3] > 0 {
		adm.RetryAt = time.UnixMilli(res[3]).UTC()
	}
	return adm, nil
}

func (l *BudgetLedger) Remaining(ctx context.Context, platform string, now time.Time, limits domain.BudgetLimits) (domain.Budget, error) {
	key := budgetKey(platform)
	nowMs := now.UnixMilli()

	pipe := l.rdb.Pipeline()
	hourCmd := pipe.ZCount(ctx, key, "("+strconv.FormatInt(nowMs-hourMs, 10), "+inf")
	dayCmd := pipe.ZCount(ctx, key, "("+strconv.FormatInt(nowMs-dayMs, 10), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Budget{}, fmt.Errorf("budget count pipeline failed: %w", err)
	}
	return remaining(hourCmd.Val(), dayCmd.Val(), limits), nil
}

func remaining(hour, day int64, limits domain.BudgetLimits) domain.Budget {
	return domain.Budget{
		HourlyRemaining: max(0, limits.Hourly-int(hour)),
		DailyRemaining:  max(0, limits.Daily-int(day)),
	}
}
