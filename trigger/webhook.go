package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/metrics"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/queue"
	"github.com/mohitkumar/flowgate/util"
	"go.uber.org/zap"
)

const (
	TRIGGER_KEY    = "_trigger"
	SOURCE_WEBHOOK = "webhook"
	STATUS_QUEUED  = "queued"
)

type WebhookStorage interface {
	persistence.WorkflowStore
	persistence.WebhookStore
}

type WebhookRequest struct {
	WorkflowID    string
	WebhookID     string
	Header        http.Header
	Body          []byte
	SourceAddress string
}

type WebhookResult struct {
	Success    bool   `json:"success"`
	QueueID    string `json:"queueId"`
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
}

type WebhookTrigger struct {
	store   WebhookStorage
	queue   *queue.Queue
	limiter RateLimiter
	metrics *metrics.Metrics
}

// NewWebhookTrigger builds a trigger. A nil limiter counts queue items.
func NewWebhookTrigger(store WebhookStorage, q *queue.Queue, limiter RateLimiter, m *metrics.Metrics) *WebhookTrigger {
	return &WebhookTrigger{store: store, queue: q, limiter: limiter, metrics: m}
}

func (t *WebhookTrigger) Handle(ctx context.Context, req WebhookRequest) (*WebhookResult, error) {
	res, err := t.handle(ctx, req)
	result := "accepted"
	if err != nil {
		result = fmt.Sprintf("%d", HTTPStatus(err))
		logger.Warn("webhook rejected", zap.String("workflow", req.WorkflowID), zap.String("webhook", req.WebhookID),
			zap.String("source", req.SourceAddress), zap.Error(err))
	}
	t.metrics.WebhookRequest(result)
	return res, err
}

func (t *WebhookTrigger) handle(ctx context.Context, req WebhookRequest) (*WebhookResult, error) {
	cfg, err := t.store.GetWebhookConfig(ctx, req.WorkflowID, req.WebhookID)
	if errors.Is(err, persistence.ErrNotFound) || (err == nil && !cfg.IsActive) {
		return nil, NotFoundError{Message: fmt.Sprintf("webhook %s not found for workflow %s", req.WebhookID, req.WorkflowID)}
	}
	if err != nil {
		return nil, err
	}
	def, err := t.store.GetWorkflow(ctx, req.WorkflowID, 0)
	if errors.Is(err, persistence.ErrNotFound) || (err == nil && !def.IsActive) {
		return nil, NotFoundError{Message: fmt.Sprintf("workflow %s not found or inactive", req.WorkflowID)}
	}
	if err != nil {
		return nil, err
	}

	if err := authenticate(cfg, req.Header, req.Body); err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if len(bytes.TrimSpace(req.Body)) > 0 {
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			return nil, ValidationError{Message: "body must be a JSON object"}
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}
	if err := validatePayload(cfg.PayloadSchema, payload); err != nil {
		return nil, err
	}

	enqueue := queue.EnqueueRequest{WorkflowID: req.WorkflowID}
	if cfg.RateLimitPerMinute > 0 && t.limiter == nil {
		enqueue.Limit = cfg.RateLimitPerMinute
		enqueue.Window = RATE_WINDOW
	} else if cfg.RateLimitPerMinute > 0 {
		ok, err := t.limiter.Allow(ctx, req.WorkflowID, cfg.RateLimitPerMinute)
		if err != nil {
			return nil, fmt.Errorf("checking rate limit: %w", err)
		}
		if !ok {
			return nil, RateLimitError{WorkflowID: req.WorkflowID, Limit: cfg.RateLimitPerMinute}
		}
	}

	now := t.queue.Now()
	enqueue.InputData = util.MergeMaps(payload, map[string]any{
		TRIGGER_KEY: map[string]any{
			"source":        SOURCE_WEBHOOK,
			"webhookId":     cfg.ID,
			"sourceAddress": req.SourceAddress,
			"receivedAt":    now.Format(time.RFC3339Nano),
		},
	})
	item, err := t.queue.Enqueue(ctx, enqueue)
	if errors.Is(err, queue.ErrLimitReached) {
		return nil, RateLimitError{WorkflowID: req.WorkflowID, Limit: cfg.RateLimitPerMinute}
	}
	if err != nil {
		return nil, err
	}
	event := &model.WebhookEvent{
		ID:              uuid.NewString(),
		WebhookConfigID: cfg.ID,
		WorkflowID:      req.WorkflowID,
		QueueID:         item.ID,
		SourceAddress:   req.SourceAddress,
		Status:          STATUS_QUEUED,
		CreatedAt:       now,
	}
	if err := t.store.InsertWebhookEvent(ctx, event); err != nil {
		logger.Error("recording webhook event", zap.String("webhook", cfg.ID), zap.String("queueItem", item.ID), zap.Error(err))
	}
	logger.Info("webhook accepted", zap.String("workflow", req.WorkflowID), zap.String("webhook", cfg.ID), zap.String("queueItem", item.ID))
	return &WebhookResult{Success: true, QueueID: item.ID, WorkflowID: req.WorkflowID, Status: STATUS_QUEUED}, nil
}
