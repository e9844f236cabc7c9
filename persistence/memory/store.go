// Package memory is a process-local Store used by tests and the memory storage type.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/util"
)

type Store struct {
	mu         sync.Mutex
	workflows  map[string]map[int]*model.WorkflowDefinition
	executions map[string]*model.Execution
	steps      map[string]*model.StepExecution
	stepOrder  []string
	queue      map[string]*model.QueueItem
	queueOrder []string
	schedules  map[string]*model.Schedule
	webhooks   map[string]*model.WebhookConfig
	events     []*model.WebhookEvent
	records    map[string]*model.Record
}

var _ persistence.Store = new(Store)

func NewStore() *Store {
	return &Store{
		workflows:  make(map[string]map[int]*model.WorkflowDefinition),
		executions: make(map[string]*model.Execution),
		steps:      make(map[string]*model.StepExecution),
		queue:      make(map[string]*model.QueueItem),
		schedules:  make(map[string]*model.Schedule),
		webhooks:   make(map[string]*model.WebhookConfig),
		records:    make(map[string]*model.Record),
	}
}

// clone keeps callers from sharing maps with the store and types values the
// way the SQL store returns them.
func clone[T any](v *T) *T {
	out, err := util.NewJsonEncoderDecoder[T]().Clone(v)
	if err != nil {
		panic(fmt.Sprintf("memory store: %v", err))
	}
	return out
}

func (s *Store) Close() error { return nil }

func (s *Store) SaveWorkflow(ctx context.Context, def *model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.workflows[def.ID]
	if !ok {
		versions = make(map[int]*model.WorkflowDefinition)
		s.workflows[def.ID] = versions
	}
	versions[def.Version] = clone(def)
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.workflows[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if version == 0 {
		for v := range versions {
			if v > version {
				version = v
			}
		}
	}
	def, ok := versions[version]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(def), nil
}

func (s *Store) CreateExecution(ctx context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return persistence.ErrConflict
	}
	s.executions[exec.ID] = clone(exec)
	return nil
}

// Executions returns every execution, in no particular order.
func (s *Store) Executions() []*model.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, clone(exec))
	}
	return out
}

func (s *Store) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.executions[exec.ID] = clone(exec)
	return nil
}

func (s *Store) TransitionExecution(ctx context.Context, exec *model.Execution, from model.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.executions[exec.ID]
	if !ok {
		return false, persistence.ErrNotFound
	}
	if cur.Status != from {
		return false, nil
	}
	s.executions[exec.ID] = clone(exec)
	return true, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(exec), nil
}

func (s *Store) CreateStep(ctx context.Context, step *model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[step.ID]; ok {
		return persistence.ErrConflict
	}
	s.steps[step.ID] = clone(step)
	s.stepOrder = append(s.stepOrder, step.ID)
	return nil
}

func (s *Store) UpdateStep(ctx context.Context, step *model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[step.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.steps[step.ID] = clone(step)
	return nil
}

func (s *Store) TransitionStep(ctx context.Context, step *model.StepExecution, from model.StepStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.steps[step.ID]
	if !ok {
		return false, persistence.ErrNotFound
	}
	if cur.Status != from {
		return false, nil
	}
	s.steps[step.ID] = clone(step)
	return true, nil
}

func (s *Store) GetStep(ctx context.Context, id string) (*model.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(step), nil
}

func (s *Store) ListSteps(ctx context.Context, executionID string) ([]*model.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.StepExecution
	for _, id := range s.stepOrder {
		if step := s.steps[id]; step.ExecutionID == executionID {
			out = append(out, clone(step))
		}
	}
	return out, nil
}

func (s *Store) ListPendingSteps(ctx context.Context, startedBefore time.Time) ([]*model.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.StepExecution
	for _, id := range s.stepOrder {
		step := s.steps[id]
		if step.Status == model.STEP_PENDING && !step.StartedAt.After(startedBefore) {
			out = append(out, clone(step))
		}
	}
	return out, nil
}

func (s *Store) InsertQueueItem(ctx context.Context, item *model.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertQueueItem(item)
}

func (s *Store) insertQueueItem(item *model.QueueItem) error {
	if _, ok := s.queue[item.ID]; ok {
		return persistence.ErrConflict
	}
	s.queue[item.ID] = clone(item)
	s.queueOrder = append(s.queueOrder, item.ID)
	return nil
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(item), nil
}

func (s *Store) ClaimQueueItems(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]*model.QueueItem, 0)
	for _, id := range s.queueOrder {
		item := s.queue[id]
		if item.Status == model.QUEUE_PENDING && !item.AvailableAt.After(now) {
			due = append(due, item)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*model.QueueItem, 0, len(due))
	for _, item := range due {
		started := now
		item.Status = model.QUEUE_PROCESSING
		item.ProcessingStartedAt = &started
		out = append(out, clone(item))
	}
	return out, nil
}

func (s *Store) ReclaimStaleQueueItems(ctx context.Context, staleBefore time.Time, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.queueOrder {
		item := s.queue[id]
		if item.Status != model.QUEUE_PROCESSING || item.ProcessingStartedAt == nil || item.ProcessingStartedAt.After(staleBefore) {
			continue
		}
		item.ErrorMessage = "processing lease expired"
		item.ProcessingStartedAt = nil
		if item.Exhausted() {
			completed := now
			item.Status = model.QUEUE_FAILED
			item.CompletedAt = &completed
		} else {
			item.Status = model.QUEUE_PENDING
			item.AvailableAt = now
		}
		item.Attempts++
		n++
	}
	return n, nil
}

func (s *Store) CompleteQueueItem(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if item.Status != model.QUEUE_PROCESSING {
		return persistence.ErrNotClaimed
	}
	completed := now
	item.Status = model.QUEUE_COMPLETED
	item.CompletedAt = &completed
	item.ErrorMessage = ""
	return nil
}

func (s *Store) FailQueueItem(ctx context.Context, id string, errMsg string, now time.Time, retryAt time.Time) (*model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if item.Status != model.QUEUE_PROCESSING {
		return nil, persistence.ErrNotClaimed
	}
	item.ErrorMessage = errMsg
	item.ProcessingStartedAt = nil
	if item.Exhausted() {
		completed := now
		item.Status = model.QUEUE_FAILED
		item.CompletedAt = &completed
	} else {
		item.Status = model.QUEUE_PENDING
		item.AvailableAt = retryAt
	}
	item.Attempts++
	return clone(item), nil
}

func (s *Store) InsertQueueItemWithin(ctx context.Context, item *model.QueueItem, since time.Time, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, existing := range s.queue {
		if existing.WorkflowID == item.WorkflowID && !existing.CreatedAt.Before(since) {
			n++
		}
	}
	if n >= limit {
		return false, nil
	}
	return true, s.insertQueueItem(item)
}

func (s *Store) SaveSchedule(ctx context.Context, sc *model.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = clone(sc)
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(sc), nil
}

func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Schedule
	for _, sc := range s.schedules {
		if sc.IsActive && (sc.NextRunAt == nil || !sc.NextRunAt.After(now)) {
			out = append(out, clone(sc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateScheduleRun(ctx context.Context, id string, prevNextRunAt *time.Time, lastRunAt *time.Time, nextRunAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return false, persistence.ErrNotFound
	}
	switch {
	case prevNextRunAt == nil && sc.NextRunAt != nil,
		prevNextRunAt != nil && (sc.NextRunAt == nil || !sc.NextRunAt.Equal(*prevNextRunAt)):
		return false, nil
	}
	if lastRunAt != nil {
		t := *lastRunAt
		sc.LastRunAt = &t
	}
	if nextRunAt != nil {
		t := *nextRunAt
		sc.NextRunAt = &t
	}
	return true, nil
}

func (s *Store) SaveWebhookConfig(ctx context.Context, cfg *model.WebhookConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[cfg.ID] = clone(cfg)
	return nil
}

func (s *Store) GetWebhookConfig(ctx context.Context, workflowID string, webhookID string) (*model.WebhookConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.webhooks[webhookID]
	if !ok || cfg.WorkflowID != workflowID {
		return nil, persistence.ErrNotFound
	}
	return clone(cfg), nil
}

func (s *Store) InsertWebhookEvent(ctx context.Context, ev *model.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, clone(ev))
	return nil
}

// WebhookEvents returns the audit rows written so far.
func (s *Store) WebhookEvents() []*model.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.WebhookEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, clone(ev))
	}
	return out
}

func recordKey(collection, id string) string {
	return collection + "/" + id
}

func (s *Store) InsertRecord(ctx context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(rec.Collection, rec.ID)
	if _, ok := s.records[key]; ok {
		return persistence.ErrConflict
	}
	r := clone(rec)
	r.UpdatedAt = time.Now().UTC()
	s.records[key] = r
	return nil
}

func (s *Store) UpdateRecord(ctx context.Context, collection string, id string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(collection, id)]
	if !ok {
		return persistence.ErrNotFound
	}
	rec.Data = util.MergeMaps(rec.Data, *clone(&values))
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetRecord(ctx context.Context, collection string, id string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(collection, id)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(rec), nil
}
