package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/stretchr/testify/require"
)

// TestStore runs the full Store contract, including the queue contract.
func TestStore(t *testing.T, newStore func(t *testing.T) persistence.Store) {
	for scenario, fn := range map[string]func(t *testing.T, s persistence.Store){
		"workflow versions":          testWorkflowVersions,
		"executions and steps":       testExecutionsAndSteps,
		"step transition is guarded": testTransitionStep,
		"execution transition":       testTransitionExecution,
		"due schedules":              testSchedules,
		"webhook configs and events": testWebhooks,
		"records":                    testRecords,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
	TestQueueStore(t, func(t *testing.T) persistence.QueueStore {
		return newStore(t)
	})
}

func testWorkflowVersions(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	for v := 1; v <= 2; v++ {
		require.NoError(t, s.SaveWorkflow(ctx, &model.WorkflowDefinition{
			ID: "wf", Version: v, Name: "onboarding", IsActive: v == 2, EngineVersion: model.ENGINE_V2,
			Nodes: []model.Node{{ID: "s", Kind: model.NODE_START, Config: map[string]any{"v": v}}},
			Edges: []model.Edge{},
			CreatedAt: time.Now().UTC(),
		}))
	}
	latest, err := s.GetWorkflow(ctx, "wf", 0)
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version)
	require.True(t, latest.IsActive)
	require.Equal(t, model.ENGINE_V2, latest.EngineVersion)
	require.Equal(t, float64(2), latest.Nodes[0].Config["v"])

	first, err := s.GetWorkflow(ctx, "wf", 1)
	require.NoError(t, err)
	require.False(t, first.IsActive)

	first.IsActive = true
	require.NoError(t, s.SaveWorkflow(ctx, first))
	first, err = s.GetWorkflow(ctx, "wf", 1)
	require.NoError(t, err)
	require.True(t, first.IsActive)

	_, err = s.GetWorkflow(ctx, "nope", 0)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testExecutionsAndSteps(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	exec := &model.Execution{ID: "exec-1", WorkflowID: "wf", WorkflowVersion: 1, Status: model.EXECUTION_RUNNING, StartedBy: "test", StartedAt: now}
	require.NoError(t, s.CreateExecution(ctx, exec))
	require.ErrorIs(t, s.CreateExecution(ctx, exec), persistence.ErrConflict)

	for i, node := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateStep(ctx, &model.StepExecution{
			ID: "step-" + node, ExecutionID: exec.ID, NodeID: node, NodeKind: model.NODE_HTTP,
			Status: model.STEP_RUNNING, InputData: map[string]any{"i": i}, StartedAt: now.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	step, err := s.GetStep(ctx, "step-b")
	require.NoError(t, err)
	done := now.Add(time.Second)
	step.Status = model.STEP_COMPLETED
	step.OutputData = map[string]any{"ok": true}
	step.CompletedAt = &done
	require.NoError(t, s.UpdateStep(ctx, step))

	steps, err := s.ListSteps(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{steps[0].NodeID, steps[1].NodeID, steps[2].NodeID})
	require.Equal(t, model.STEP_COMPLETED, steps[1].Status)
	require.Equal(t, true, steps[1].OutputData["ok"])
	require.WithinDuration(t, done, *steps[1].CompletedAt, time.Microsecond)

	exec.Status = model.EXECUTION_COMPLETED
	exec.CurrentNodeID = "c"
	exec.CompletedAt = &done
	require.NoError(t, s.UpdateExecution(ctx, exec))
	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, got.Status)
	require.Equal(t, "c", got.CurrentNodeID)
	require.Equal(t, "test", got.StartedBy)

	_, err = s.GetExecution(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrNotFound)
	require.ErrorIs(t, s.UpdateStep(ctx, &model.StepExecution{ID: "missing"}), persistence.ErrNotFound)
}

func testTransitionStep(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateStep(ctx, &model.StepExecution{
		ID: "pending", ExecutionID: "exec", NodeID: "approve", NodeKind: model.NODE_APPROVAL,
		Status: model.STEP_PENDING, StartedAt: now.Add(-time.Hour),
	}))
	pending, err := s.ListPendingSteps(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	pending, err = s.ListPendingSteps(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, pending)

	step, err := s.GetStep(ctx, "pending")
	require.NoError(t, err)
	step.Status = model.STEP_COMPLETED
	step.OutputData = map[string]any{"decision": "approved"}

	ok, err := s.TransitionStep(ctx, step, model.STEP_PENDING)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TransitionStep(ctx, step, model.STEP_PENDING)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.TransitionStep(ctx, &model.StepExecution{ID: "missing", Status: model.STEP_COMPLETED}, model.STEP_PENDING)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testTransitionExecution(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateExecution(ctx, &model.Execution{ID: "exec-1", WorkflowID: "wf", WorkflowVersion: 1, Status: model.EXECUTION_RUNNING, StartedAt: now}))

	cancelled, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	cancelled.Status = model.EXECUTION_FAILED
	cancelled.ErrorMessage = "cancelled"
	cancelled.CompletedAt = &now
	ok, err := s.TransitionExecution(ctx, cancelled, model.EXECUTION_RUNNING)
	require.NoError(t, err)
	require.True(t, ok)

	stale, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	stale.Status = model.EXECUTION_RUNNING
	stale.CurrentNodeID = "email"
	stale.CompletedAt = nil
	stale.ErrorMessage = ""
	ok, err = s.TransitionExecution(ctx, stale, model.EXECUTION_RUNNING)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, got.Status)
	require.Equal(t, "cancelled", got.ErrorMessage)

	_, err = s.TransitionExecution(ctx, &model.Execution{ID: "missing", Status: model.EXECUTION_FAILED}, model.EXECUTION_RUNNING)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testSchedules(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	for _, sc := range []*model.Schedule{
		{ID: "a-never-ran", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: true},
		{ID: "b-due", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: true, NextRunAt: &past, InputData: map[string]any{"k": "v"}},
		{ID: "c-future", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: true, NextRunAt: &future},
		{ID: "d-inactive", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: false},
	} {
		require.NoError(t, s.SaveSchedule(ctx, sc))
	}
	due, err := s.ListDueSchedules(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "a-never-ran", due[0].ID)
	require.Equal(t, "b-due", due[1].ID)
	require.Equal(t, "v", due[1].InputData["k"])

	ok, err := s.UpdateScheduleRun(ctx, "b-due", due[1].NextRunAt, &now, &future)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := s.GetSchedule(ctx, "b-due")
	require.NoError(t, err)
	require.WithinDuration(t, now, *got.LastRunAt, time.Microsecond)
	require.WithinDuration(t, future, *got.NextRunAt, time.Microsecond)

	// a second tick that listed the same due run loses
	ok, err = s.UpdateScheduleRun(ctx, "b-due", due[1].NextRunAt, &now, &future)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.UpdateScheduleRun(ctx, "a-never-ran", nil, nil, &future)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = s.GetSchedule(ctx, "a-never-ran")
	require.NoError(t, err)
	require.Nil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	ok, err = s.UpdateScheduleRun(ctx, "a-never-ran", nil, &now, &future)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.UpdateScheduleRun(ctx, "missing", nil, &now, &now)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testWebhooks(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	cfg := &model.WebhookConfig{
		ID: "hook", WorkflowID: "wf", IsActive: true, AuthType: model.AUTH_BEARER,
		Credentials:        map[string]string{model.CRED_TOKEN_HASH: "abc"},
		PayloadSchema:      map[string]any{"required": []any{"email"}},
		RateLimitPerMinute: 10,
	}
	require.NoError(t, s.SaveWebhookConfig(ctx, cfg))
	got, err := s.GetWebhookConfig(ctx, "wf", "hook")
	require.NoError(t, err)
	require.Equal(t, cfg.Credentials, got.Credentials)
	require.Equal(t, []any{"email"}, got.PayloadSchema["required"])
	require.Equal(t, 10, got.RateLimitPerMinute)

	_, err = s.GetWebhookConfig(ctx, "other-wf", "hook")
	require.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, s.InsertWebhookEvent(ctx, &model.WebhookEvent{
		ID: "ev", WebhookConfigID: "hook", WorkflowID: "wf", QueueID: "q", Status: "queued", CreatedAt: time.Now().UTC(),
	}))
}

func testRecords(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, &model.Record{Collection: "customers", ID: "c1", Data: map[string]any{"name": "ada", "tier": "free"}}))
	require.ErrorIs(t, s.InsertRecord(ctx, &model.Record{Collection: "customers", ID: "c1"}), persistence.ErrConflict)
	require.NoError(t, s.UpdateRecord(ctx, "customers", "c1", map[string]any{"tier": "pro"}))
	rec, err := s.GetRecord(ctx, "customers", "c1")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "ada", "tier": "pro"}, rec.Data)
	require.ErrorIs(t, s.UpdateRecord(ctx, "customers", "nope", nil), persistence.ErrNotFound)
}
