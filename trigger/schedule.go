package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/metrics"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/queue"
	"github.com/mohitkumar/flowgate/util"
	"go.uber.org/zap"
)

const (
	SOURCE_SCHEDULE = "schedule"
	STATUS_SKIPPED  = "skipped"
	STATUS_ERROR    = "error"
	// STATUS_TAKEN means another tick already fired this run.
	STATUS_TAKEN = "taken"
)

type ScheduleStorage interface {
	persistence.WorkflowStore
	persistence.ScheduleStore
}

type FireResult struct {
	ScheduleID string     `json:"scheduleId"`
	WorkflowID string     `json:"workflowId"`
	QueueID    string     `json:"queueId,omitempty"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type ScheduleTrigger struct {
	store   ScheduleStorage
	queue   *queue.Queue
	metrics *metrics.Metrics
}

func NewScheduleTrigger(store ScheduleStorage, q *queue.Queue, m *metrics.Metrics) *ScheduleTrigger {
	return &ScheduleTrigger{store: store, queue: q, metrics: m}
}

// Tick fires every active schedule due at now. A schedule that cannot fire is
// reported in its result and does not stop the others. Each due run is
// claimed in the store before it is enqueued, so concurrent ticks fire it once.
func (t *ScheduleTrigger) Tick(ctx context.Context, now time.Time) ([]FireResult, error) {
	now = now.UTC()
	due, err := t.store.ListDueSchedules(ctx, now)
	if err != nil {
		return nil, err
	}
	results := make([]FireResult, 0, len(due))
	for _, s := range due {
		res := t.fire(ctx, s, now)
		t.metrics.ScheduleFired(res.Status)
		results = append(results, res)
	}
	if len(results) > 0 {
		logger.Info("schedules processed", zap.Int("count", len(results)))
	}
	return results, nil
}

func (t *ScheduleTrigger) fire(ctx context.Context, s *model.Schedule, now time.Time) FireResult {
	res := FireResult{ScheduleID: s.ID, WorkflowID: s.WorkflowID}
	failed := func(err error) FireResult {
		res.Status = STATUS_ERROR
		res.Error = err.Error()
		logger.Error("schedule failed", zap.String("schedule", s.ID), zap.String("workflow", s.WorkflowID), zap.Error(err))
		return res
	}
	taken := func() FireResult {
		res.Status = STATUS_TAKEN
		res.NextRunAt = nil
		logger.Debug("schedule run already taken", zap.String("schedule", s.ID))
		return res
	}

	next, err := NextRun(s.CronExpression, s.Timezone, now)
	if err != nil {
		return failed(err)
	}
	res.NextRunAt = &next

	def, err := t.store.GetWorkflow(ctx, s.WorkflowID, 0)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return failed(err)
	}
	if err != nil || !def.IsActive {
		claimed, uerr := t.store.UpdateScheduleRun(ctx, s.ID, s.NextRunAt, nil, &next)
		if uerr != nil {
			return failed(uerr)
		}
		if !claimed {
			return taken()
		}
		res.Status = STATUS_SKIPPED
		logger.Info("schedule skipped, workflow inactive", zap.String("schedule", s.ID), zap.String("workflow", s.WorkflowID))
		return res
	}

	input := util.MergeMaps(s.InputData, map[string]any{
		TRIGGER_KEY: map[string]any{
			"source":         SOURCE_SCHEDULE,
			"scheduleId":     s.ID,
			"cronExpression": s.CronExpression,
			"firedAt":        now.Format(time.RFC3339Nano),
		},
	})
	// claim the run first so overlapping ticks enqueue it once
	claimed, err := t.store.UpdateScheduleRun(ctx, s.ID, s.NextRunAt, &now, &next)
	if err != nil {
		return failed(err)
	}
	if !claimed {
		return taken()
	}
	item, err := t.queue.Enqueue(ctx, queue.EnqueueRequest{WorkflowID: s.WorkflowID, InputData: input})
	if err != nil {
		return failed(err)
	}
	res.QueueID = item.ID
	res.Status = STATUS_QUEUED
	return res
}
