package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/metrics"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"go.uber.org/zap"
)

type Options struct {
	MaxAttempts int
	// LeaseTTL is how long a claim may stay in processing before the item is
	// considered abandoned by a crashed worker.
	LeaseTTL             time.Duration
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	Metrics              *metrics.Metrics
	Now                  func() time.Time
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = model.DEFAULT_MAX_ATTEMPTS
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 5 * time.Minute
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 5 * time.Second
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = 5 * time.Minute
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

type EnqueueRequest struct {
	WorkflowID      string
	WorkflowVersion int
	Kind            model.QueueItemKind
	InputData       map[string]any
	MaxAttempts     int
	// Delay postpones the first claim.
	Delay time.Duration
	// Limit, when > 0, admits the item only while fewer than Limit items of
	// the workflow were enqueued during the trailing Window.
	Limit  int
	Window time.Duration
}

// ErrLimitReached is returned by Enqueue when a request's Limit is used up.
var ErrLimitReached = errors.New("queue admission limit reached")

// Queue is the durable work queue in front of the engine.
type Queue struct {
	store persistence.QueueStore
	opts  Options
}

func New(store persistence.QueueStore, opts Options) *Queue {
	opts.defaults()
	return &Queue{store: store, opts: opts}
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*model.QueueItem, error) {
	if req.WorkflowID == "" {
		return nil, errors.New("workflow id is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = model.QUEUE_KIND_RUN
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}
	now := q.opts.Now()
	item := &model.QueueItem{
		ID:              uuid.NewString(),
		WorkflowID:      req.WorkflowID,
		WorkflowVersion: req.WorkflowVersion,
		Kind:            kind,
		Status:          model.QUEUE_PENDING,
		InputData:       req.InputData,
		MaxAttempts:     maxAttempts,
		CreatedAt:       now,
		AvailableAt:     now.Add(req.Delay),
	}
	if req.Limit > 0 {
		ok, err := q.store.InsertQueueItemWithin(ctx, item, now.Add(-req.Window), req.Limit)
		if err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", req.WorkflowID, err)
		}
		if !ok {
			q.opts.Metrics.QueueItem("limited")
			return nil, ErrLimitReached
		}
	} else if err := q.store.InsertQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", req.WorkflowID, err)
	}
	q.opts.Metrics.QueueItem("enqueued")
	logger.Debug("queue item enqueued", zap.String("id", item.ID), zap.String("workflow", item.WorkflowID), zap.String("kind", string(kind)))
	return item, nil
}

// ClaimBatch recovers abandoned claims, then claims up to limit due items.
func (q *Queue) ClaimBatch(ctx context.Context, limit int) ([]*model.QueueItem, error) {
	now := q.opts.Now()
	reclaimed, err := q.store.ReclaimStaleQueueItems(ctx, now.Add(-q.opts.LeaseTTL), now)
	if err != nil {
		return nil, fmt.Errorf("reclaiming stale items: %w", err)
	}
	if reclaimed > 0 {
		logger.Warn("reclaimed abandoned queue items", zap.Int("count", reclaimed))
		q.opts.Metrics.QueueItem("reclaimed")
	}
	items, err := q.store.ClaimQueueItems(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming items: %w", err)
	}
	for range items {
		q.opts.Metrics.QueueItem("claimed")
	}
	return items, nil
}

func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	if err := q.store.CompleteQueueItem(ctx, id, q.opts.Now()); err != nil {
		return fmt.Errorf("completing %s: %w", id, err)
	}
	q.opts.Metrics.QueueItem("completed")
	return nil
}

// MarkFailed records a failed attempt. The item is retried after a backoff
// delay or dead-lettered once it has used max_attempts.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) (*model.QueueItem, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	item, err := q.store.GetQueueItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failing %s: %w", id, err)
	}
	now := q.opts.Now()
	item, err = q.store.FailQueueItem(ctx, id, msg, now, now.Add(q.RetryDelay(item.Attempts+1)))
	if err != nil {
		return nil, fmt.Errorf("failing %s: %w", id, err)
	}
	if item.Status == model.QUEUE_FAILED {
		q.opts.Metrics.QueueItem("dead_lettered")
		logger.Error("queue item dead-lettered", zap.String("id", id), zap.Int("attempts", item.Attempts), zap.String("error", msg))
	} else {
		q.opts.Metrics.QueueItem("retried")
		logger.Warn("queue item will be retried", zap.String("id", id), zap.Int("attempts", item.Attempts), zap.Time("availableAt", item.AvailableAt))
	}
	return item, nil
}

// RetryDelay is the wait before the given attempt number is retried.
func (q *Queue) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.RetryInitialInterval
	b.MaxInterval = q.opts.RetryMaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (q *Queue) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	return q.store.GetQueueItem(ctx, id)
}

func (q *Queue) Now() time.Time {
	return q.opts.Now()
}
