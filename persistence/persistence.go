package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/flowgate/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	// ErrNotClaimed is returned when completing or failing a queue item that
	// is not in processing, typically because its lease was reclaimed.
	ErrNotClaimed = errors.New("queue item is not claimed")
)

type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, def *model.WorkflowDefinition) error
	// GetWorkflow returns the given version, or the highest version when version is 0.
	GetWorkflow(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error)
}

type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *model.Execution) error
	UpdateExecution(ctx context.Context, exec *model.Execution) error
	// TransitionExecution writes exec only if the stored status still equals from.
	TransitionExecution(ctx context.Context, exec *model.Execution, from model.ExecutionStatus) (bool, error)
	GetExecution(ctx context.Context, id string) (*model.Execution, error)

	CreateStep(ctx context.Context, step *model.StepExecution) error
	UpdateStep(ctx context.Context, step *model.StepExecution) error
	// TransitionStep writes step only if the stored status still equals from.
	TransitionStep(ctx context.Context, step *model.StepExecution, from model.StepStatus) (bool, error)
	GetStep(ctx context.Context, id string) (*model.StepExecution, error)
	ListSteps(ctx context.Context, executionID string) ([]*model.StepExecution, error)
	// ListPendingSteps returns pending steps started at or before the cutoff.
	ListPendingSteps(ctx context.Context, startedBefore time.Time) ([]*model.StepExecution, error)
}

type QueueStore interface {
	InsertQueueItem(ctx context.Context, item *model.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)
	// ClaimQueueItems moves up to limit due pending items to processing.
	// Each item is claimed by at most one caller.
	ClaimQueueItems(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error)
	// ReclaimStaleQueueItems returns items processing since before staleBefore
	// to pending, counting the lost attempt, or dead-letters them when exhausted.
	ReclaimStaleQueueItems(ctx context.Context, staleBefore time.Time, now time.Time) (int, error)
	CompleteQueueItem(ctx context.Context, id string, now time.Time) error
	// FailQueueItem counts a failed attempt. The item goes back to pending,
	// available at retryAt, or to failed once attempts reach max_attempts.
	FailQueueItem(ctx context.Context, id string, errMsg string, now time.Time, retryAt time.Time) (*model.QueueItem, error)
	// InsertQueueItemWithin inserts item only while fewer than limit items of
	// the same workflow were created at or after since. Counting and inserting
	// are one atomic step; it reports whether the item was inserted.
	InsertQueueItemWithin(ctx context.Context, item *model.QueueItem, since time.Time, limit int) (bool, error)
}

type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s *model.Schedule) error
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]*model.Schedule, error)
	// UpdateScheduleRun sets the non-nil run times only while the stored
	// next run still equals prevNextRunAt, nil matching a schedule that never
	// ran. It reports whether the schedule was updated.
	UpdateScheduleRun(ctx context.Context, id string, prevNextRunAt *time.Time, lastRunAt *time.Time, nextRunAt *time.Time) (bool, error)
}

type WebhookStore interface {
	SaveWebhookConfig(ctx context.Context, cfg *model.WebhookConfig) error
	GetWebhookConfig(ctx context.Context, workflowID string, webhookID string) (*model.WebhookConfig, error)
	InsertWebhookEvent(ctx context.Context, ev *model.WebhookEvent) error
}

type RecordStore interface {
	InsertRecord(ctx context.Context, rec *model.Record) error
	UpdateRecord(ctx context.Context, collection string, id string, values map[string]any) error
	GetRecord(ctx context.Context, collection string, id string) (*model.Record, error)
}

type Store interface {
	WorkflowStore
	ExecutionStore
	QueueStore
	ScheduleStore
	WebhookStore
	RecordStore
	Close() error
}

// WithQueue overlays a separate queue backend on a store.
func WithQueue(s Store, q QueueStore) Store {
	return &splitStore{Store: s, queue: q}
}

type splitStore struct {
	Store
	queue QueueStore
}

func (s *splitStore) InsertQueueItem(ctx context.Context, item *model.QueueItem) error {
	return s.queue.InsertQueueItem(ctx, item)
}

func (s *splitStore) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	return s.queue.GetQueueItem(ctx, id)
}

func (s *splitStore) ClaimQueueItems(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error) {
	return s.queue.ClaimQueueItems(ctx, now, limit)
}

func (s *splitStore) ReclaimStaleQueueItems(ctx context.Context, staleBefore time.Time, now time.Time) (int, error) {
	return s.queue.ReclaimStaleQueueItems(ctx, staleBefore, now)
}

func (s *splitStore) CompleteQueueItem(ctx context.Context, id string, now time.Time) error {
	return s.queue.CompleteQueueItem(ctx, id, now)
}

func (s *splitStore) FailQueueItem(ctx context.Context, id string, errMsg string, now time.Time, retryAt time.Time) (*model.QueueItem, error) {
	return s.queue.FailQueueItem(ctx, id, errMsg, now, retryAt)
}

func (s *splitStore) InsertQueueItemWithin(ctx context.Context, item *model.QueueItem, since time.Time, limit int) (bool, error) {
	return s.queue.InsertQueueItemWithin(ctx, item, since, limit)
}
