package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/util"
	"go.uber.org/zap"
)

const (
	QUEUE_ITEMS_KEY      = "QUEUE_ITEMS"
	QUEUE_PENDING_KEY    = "QUEUE_PENDING"
	QUEUE_PROCESSING_KEY = "QUEUE_PROCESSING"
	QUEUE_CREATED_KEY    = "QUEUE_CREATED"
)

// claimScript moves up to ARGV[2] members due by ARGV[1] from the pending set
// to the processing set, scored with the claim time ARGV[3].
var claimScript = rd.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ARGV[3], id)
end
return ids
`)

// releaseScript removes ARGV[1] from the processing set and, when ARGV[2] is
// not empty, schedules it on the pending set at that score. Returns 0 when
// the member was not being processed.
var releaseScript = rd.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
if ARGV[2] ~= '' then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
end
return 1
`)

// admitScript inserts item ARGV[1] (payload ARGV[2]) when fewer than ARGV[5]
// members of the workflow's created set score at or after ARGV[4]. Returns 1
// when inserted, 0 when over the limit and -1 when the id already exists.
var admitScript = rd.NewScript(`
if redis.call('ZCOUNT', KEYS[3], ARGV[4], '+inf') >= tonumber(ARGV[5]) then
	return 0
end
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return -1
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
return 1
`)

type redisQueue struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.QueueItem]
}

var _ persistence.QueueStore = new(redisQueue)

func NewRedisQueue(conf Config) *redisQueue {
	return &redisQueue{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.QueueItem](),
	}
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (rq *redisQueue) InsertQueueItem(ctx context.Context, item *model.QueueItem) error {
	data, err := rq.encoderDecoder.Encode(*item)
	if err != nil {
		return err
	}
	ok, err := rq.redisClient.HSetNX(ctx, rq.getNamespaceKey(QUEUE_ITEMS_KEY), item.ID, data).Result()
	if err != nil {
		logger.Error("error while inserting queue item", zap.String("id", item.ID), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !ok {
		return persistence.ErrConflict
	}
	_, err = rq.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.ZAdd(ctx, rq.getNamespaceKey(QUEUE_PENDING_KEY), rd.Z{Score: float64(item.AvailableAt.UnixMilli()), Member: item.ID})
		pipe.ZAdd(ctx, rq.getNamespaceKey(QUEUE_CREATED_KEY, item.WorkflowID), rd.Z{Score: float64(item.CreatedAt.UnixMilli()), Member: item.ID})
		return nil
	})
	if err != nil {
		logger.Error("error while pushing queue item", zap.String("id", item.ID), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisQueue) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	data, err := rq.redisClient.HGet(ctx, rq.getNamespaceKey(QUEUE_ITEMS_KEY), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.ErrNotFound
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rq.encoderDecoder.Decode([]byte(data))
}

func (rq *redisQueue) saveItem(ctx context.Context, item *model.QueueItem) error {
	data, err := rq.encoderDecoder.Encode(*item)
	if err != nil {
		return err
	}
	if err := rq.redisClient.HSet(ctx, rq.getNamespaceKey(QUEUE_ITEMS_KEY), item.ID, data).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisQueue) ClaimQueueItems(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error) {
	keys := []string{rq.getNamespaceKey(QUEUE_PENDING_KEY), rq.getNamespaceKey(QUEUE_PROCESSING_KEY)}
	ids, err := claimScript.Run(ctx, rq.redisClient, keys, score(now), limit, score(now)).StringSlice()
	if err != nil && !errors.Is(err, rd.Nil) {
		logger.Error("error while claiming queue items", zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	claimed := make([]*model.QueueItem, 0, len(ids))
	for _, id := range ids {
		item, err := rq.GetQueueItem(ctx, id)
		if err != nil {
			logger.Error("claimed queue item has no body", zap.String("id", id), zap.Error(err))
			continue
		}
		started := now
		item.Status = model.QUEUE_PROCESSING
		item.ProcessingStartedAt = &started
		if err := rq.saveItem(ctx, item); err != nil {
			return claimed, err
		}
		claimed = append(claimed, item)
	}
	return claimed, nil
}

// release takes id off the processing set; retryAt nil dead-letters it.
func (rq *redisQueue) release(ctx context.Context, id string, retryAt *time.Time) (bool, error) {
	keys := []string{rq.getNamespaceKey(QUEUE_PROCESSING_KEY), rq.getNamespaceKey(QUEUE_PENDING_KEY)}
	target := ""
	if retryAt != nil {
		target = score(*retryAt)
	}
	n, err := releaseScript.Run(ctx, rq.redisClient, keys, id, target).Int()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return n == 1, nil
}

func (rq *redisQueue) ReclaimStaleQueueItems(ctx context.Context, staleBefore time.Time, now time.Time) (int, error) {
	ids, err := rq.redisClient.ZRangeByScore(ctx, rq.getNamespaceKey(QUEUE_PROCESSING_KEY), &rd.ZRangeBy{
		Min: "-inf",
		Max: score(staleBefore),
	}).Result()
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	n := 0
	for _, id := range ids {
		item, err := rq.GetQueueItem(ctx, id)
		if err != nil {
			return n, err
		}
		dead := item.Exhausted()
		var retryAt *time.Time
		if !dead {
			retryAt = &now
		}
		ok, err := rq.release(ctx, id, retryAt)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		item.Attempts++
		item.ErrorMessage = "processing lease expired"
		item.ProcessingStartedAt = nil
		if dead {
			completed := now
			item.Status = model.QUEUE_FAILED
			item.CompletedAt = &completed
		} else {
			item.Status = model.QUEUE_PENDING
			item.AvailableAt = now
		}
		if err := rq.saveItem(ctx, item); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (rq *redisQueue) CompleteQueueItem(ctx context.Context, id string, now time.Time) error {
	item, err := rq.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	ok, err := rq.release(ctx, id, nil)
	if err != nil {
		return err
	}
	if !ok {
		return persistence.ErrNotClaimed
	}
	completed := now
	item.Status = model.QUEUE_COMPLETED
	item.CompletedAt = &completed
	item.ProcessingStartedAt = nil
	item.ErrorMessage = ""
	return rq.saveItem(ctx, item)
}

func (rq *redisQueue) FailQueueItem(ctx context.Context, id string, errMsg string, now time.Time, retryAt time.Time) (*model.QueueItem, error) {
	item, err := rq.GetQueueItem(ctx, id)
	if err != nil {
		return nil, err
	}
	dead := item.Exhausted()
	var target *time.Time
	if !dead {
		target = &retryAt
	}
	ok, err := rq.release(ctx, id, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, persistence.ErrNotClaimed
	}
	item.Attempts++
	item.ErrorMessage = errMsg
	item.ProcessingStartedAt = nil
	if dead {
		completed := now
		item.Status = model.QUEUE_FAILED
		item.CompletedAt = &completed
	} else {
		item.Status = model.QUEUE_PENDING
		item.AvailableAt = retryAt
	}
	if err := rq.saveItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (rq *redisQueue) InsertQueueItemWithin(ctx context.Context, item *model.QueueItem, since time.Time, limit int) (bool, error) {
	data, err := rq.encoderDecoder.Encode(*item)
	if err != nil {
		return false, err
	}
	keys := []string{
		rq.getNamespaceKey(QUEUE_ITEMS_KEY),
		rq.getNamespaceKey(QUEUE_PENDING_KEY),
		rq.getNamespaceKey(QUEUE_CREATED_KEY, item.WorkflowID),
	}
	res, err := admitScript.Run(ctx, rq.redisClient, keys,
		item.ID, string(data), score(item.AvailableAt), score(since), limit, score(item.CreatedAt)).Int()
	if err != nil {
		logger.Error("error while admitting queue item", zap.String("id", item.ID), zap.Error(err))
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	switch res {
	case -1:
		return false, persistence.ErrConflict
	case 0:
		return false, nil
	}
	return true, nil
}
