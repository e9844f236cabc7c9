package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/flowgate/engine"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/metrics"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/queue"
	"go.uber.org/zap"
)

const (
	DEFAULT_BATCH_SIZE         = 5
	DEFAULT_ITEM_TIMEOUT       = 2 * time.Minute
	DEFAULT_MAX_CALLBACK_DELAY = 30 * time.Second
)

// Input keys of a dev-callback queue item.
const (
	CALLBACK_STEP_ID  = "stepExecutionId"
	CALLBACK_DECISION = "decision"
	CALLBACK_PAYLOAD  = "payload"
	CALLBACK_DELAY_MS = "delayMs"
)

var ErrDevCallbacksDisabled = errors.New("dev callbacks are disabled")

type Options struct {
	BatchSize   int
	ItemTimeout time.Duration
	// DevCallbacks enables dev-callback items, which simulate an external
	// system completing a suspended step. Off in production.
	DevCallbacks     bool
	MaxCallbackDelay time.Duration
	// SuspendTimeout expires steps pending longer than this on every tick; 0 disables.
	SuspendTimeout time.Duration
	Metrics        *metrics.Metrics
}

type ItemResult struct {
	QueueID     string `json:"queueId"`
	WorkflowID  string `json:"workflowId"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	ExecutionID string `json:"executionId,omitempty"`
	Engine      string `json:"engine,omitempty"`
	Error       string `json:"error,omitempty"`
}

type Report struct {
	Claimed   int          `json:"claimed"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Expired   int          `json:"expired"`
	Results   []ItemResult `json:"results"`
}

type Worker struct {
	queue    *queue.Queue
	flows    engine.FlowLoader
	variants *engine.Variants
	resumer  *engine.Resumer
	opts     Options
}

func New(q *queue.Queue, flows engine.FlowLoader, variants *engine.Variants, resumer *engine.Resumer, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DEFAULT_BATCH_SIZE
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = DEFAULT_ITEM_TIMEOUT
	}
	if opts.MaxCallbackDelay <= 0 {
		opts.MaxCallbackDelay = DEFAULT_MAX_CALLBACK_DELAY
	}
	return &Worker{queue: q, flows: flows, variants: variants, resumer: resumer, opts: opts}
}

// Tick claims one batch and processes every item in it. An item that fails is
// recorded on its queue row; only a failure to claim aborts the tick.
func (w *Worker) Tick(ctx context.Context) (*Report, error) {
	report := &Report{Results: []ItemResult{}}
	if w.opts.SuspendTimeout > 0 {
		expired, err := w.resumer.ExpireSuspended(ctx, w.opts.SuspendTimeout)
		if err != nil {
			logger.Error("expiring suspended steps failed", zap.Error(err))
		}
		report.Expired = expired
	}
	items, err := w.queue.ClaimBatch(ctx, w.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("claiming queue items: %w", err)
	}
	report.Claimed = len(items)
	for _, item := range items {
		res := w.process(ctx, item)
		if res.Status == "error" {
			report.Failed++
		} else {
			report.Completed++
		}
		report.Results = append(report.Results, res)
	}
	if report.Claimed > 0 {
		logger.Info("worker tick", zap.Int("claimed", report.Claimed), zap.Int("completed", report.Completed), zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (w *Worker) process(ctx context.Context, item *model.QueueItem) ItemResult {
	start := time.Now()
	defer func() { w.opts.Metrics.QueueItemProcessed(time.Since(start)) }()

	res := ItemResult{QueueID: item.ID, WorkflowID: item.WorkflowID, Kind: string(item.Kind)}
	// claimed items run to completion or ItemTimeout even if the caller leaves
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.ItemTimeout)
	defer cancel()

	var (
		out *engine.RunOutcome
		eng *engine.Engine
		err error
	)
	switch item.Kind {
	case model.QUEUE_KIND_DEV_CALLBACK:
		out, err = w.safely(item, func() (*engine.RunOutcome, error) { return w.callback(itemCtx, item) })
	default:
		out, eng, err = w.run(itemCtx, item)
	}
	if eng != nil {
		res.Engine = string(eng.Version())
	}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		logger.Error("queue item failed", zap.String("queueItem", item.ID), zap.String("workflow", item.WorkflowID), zap.Int("attempt", item.Attempts+1), zap.Error(err))
		if _, ferr := w.queue.MarkFailed(ctx, item.ID, err); ferr != nil {
			logger.Error("recording queue item failure", zap.String("queueItem", item.ID), zap.Error(ferr))
		}
		return res
	}
	res.Status = string(out.Status)
	res.ExecutionID = out.ExecutionID
	res.Error = out.Error
	if cerr := w.queue.MarkCompleted(ctx, item.ID); cerr != nil {
		logger.Error("completing queue item", zap.String("queueItem", item.ID), zap.Error(cerr))
		res.Status = "error"
		res.Error = cerr.Error()
	}
	return res
}

// run starts the workflow on its selected engine and retries once on the
// other variant when the first attempt fails hard.
func (w *Worker) run(ctx context.Context, item *model.QueueItem) (*engine.RunOutcome, *engine.Engine, error) {
	fl, err := w.flows.GetFlow(ctx, item.WorkflowID, item.WorkflowVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("loading workflow %s: %w", item.WorkflowID, err)
	}
	startedBy := "queue"
	if trig, ok := item.InputData["_trigger"].(map[string]any); ok {
		if source, ok := trig["source"].(string); ok && source != "" {
			startedBy = source
		}
	}
	primary := w.variants.For(fl.Definition)
	if primary == nil {
		return nil, nil, fmt.Errorf("no engine for workflow %s", item.WorkflowID)
	}
	start := func(eng *engine.Engine) func() (*engine.RunOutcome, error) {
		return func() (*engine.RunOutcome, error) { return eng.Start(ctx, fl, item.InputData, startedBy) }
	}
	out, err := w.safely(item, start(primary))
	if err == nil {
		return out, primary, nil
	}
	fallback := w.variants.Other(primary)
	if fallback == nil {
		return nil, primary, err
	}
	logger.Warn("engine failed, retrying on fallback", zap.String("queueItem", item.ID),
		zap.String("engine", string(primary.Version())), zap.String("fallback", string(fallback.Version())), zap.Error(err))
	out, ferr := w.safely(item, start(fallback))
	if ferr != nil {
		return nil, fallback, fmt.Errorf("%w; fallback: %v", err, ferr)
	}
	return out, fallback, nil
}

func (w *Worker) callback(ctx context.Context, item *model.QueueItem) (*engine.RunOutcome, error) {
	if !w.opts.DevCallbacks {
		return nil, ErrDevCallbacksDisabled
	}
	stepID, _ := item.InputData[CALLBACK_STEP_ID].(string)
	if stepID == "" {
		return nil, fmt.Errorf("dev callback without %s", CALLBACK_STEP_ID)
	}
	decision := model.DECISION_APPROVED
	if d, ok := item.InputData[CALLBACK_DECISION].(string); ok && d != "" {
		decision = model.Decision(d)
	}
	payload, _ := item.InputData[CALLBACK_PAYLOAD].(map[string]any)
	if delayMs, ok := item.InputData[CALLBACK_DELAY_MS].(float64); ok && delayMs > 0 {
		delay := time.Duration(delayMs) * time.Millisecond
		if delay > w.opts.MaxCallbackDelay {
			delay = w.opts.MaxCallbackDelay
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	logger.Debug("dev callback", zap.String("step", stepID), zap.String("decision", string(decision)))
	return w.resumer.Resume(ctx, stepID, decision, payload)
}

func (w *Worker) safely(item *model.QueueItem, fn func() (*engine.RunOutcome, error)) (out *engine.RunOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("queue item panicked", zap.String("queueItem", item.ID), zap.Any("panic", r))
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
