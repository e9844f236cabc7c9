package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/persistence"
)

const RATE_LIMIT_KEY = "RATE_LIMIT"

// slidingWindowScript trims entries older than the window, then admits one
// more entry when fewer than the limit remain.
var slidingWindowScript = rd.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

type RateLimiter struct {
	*baseDao
}

func NewRateLimiter(conf Config) *RateLimiter {
	return &RateLimiter{baseDao: newBaseDao(conf)}
}

// Allow records one hit for key and reports whether it fits within limit
// hits over the trailing window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	keys := []string{r.getNamespaceKey(RATE_LIMIT_KEY, key)}
	n, err := slidingWindowScript.Run(ctx, r.redisClient, keys,
		strconv.FormatInt(now.Add(-window).UnixMilli(), 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
		uuid.NewString(),
		window.Milliseconds(),
	).Int()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return n == 1, nil
}
