package trigger

import (
	"context"
	"time"

	"github.com/mohitkumar/flowgate/persistence/redis"
)

const RATE_WINDOW = time.Minute

// RateLimiter decides whether one more request for workflowID fits in limit
// requests per minute. Without one, the webhook trigger counts queue items
// of the workflow in the same store operation that enqueues.
type RateLimiter interface {
	Allow(ctx context.Context, workflowID string, limit int) (bool, error)
}

// RedisLimiter keeps a sliding window per workflow in redis.
type RedisLimiter struct {
	Limiter *redis.RateLimiter
}

func (l RedisLimiter) Allow(ctx context.Context, workflowID string, limit int) (bool, error) {
	return l.Limiter.Allow(ctx, "webhook:"+workflowID, limit, RATE_WINDOW)
}
