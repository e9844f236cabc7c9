package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/flowgate/action"
	"github.com/mohitkumar/flowgate/flow"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/notification"
	"github.com/mohitkumar/flowgate/persistence/memory"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notification.Event
}

func (s *recordingSink) Notify(ctx context.Context, ev notification.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []notification.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notification.EventType
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type flowMap map[string]*flow.Flow

func (m flowMap) GetFlow(ctx context.Context, workflowID string, version int) (*flow.Flow, error) {
	fl, ok := m[fmt.Sprintf("%s:%d", workflowID, version)]
	if !ok {
		return nil, fmt.Errorf("workflow %s:%d not found", workflowID, version)
	}
	return fl, nil
}

type harness struct {
	store   *memory.Store
	sink    *recordingSink
	v1      *Engine
	v2      *Engine
	resumer *Resumer
	flows   flowMap
	calls   []string
	mu      sync.Mutex
}

func newHarness(t *testing.T, effects map[model.NodeKind]action.Effect) *harness {
	h := &harness{store: memory.NewStore(), sink: &recordingSink{}, flows: flowMap{}}
	record := action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
		h.mu.Lock()
		h.calls = append(h.calls, req.Node.ID)
		h.mu.Unlock()
		return map[string]any{"ok": true}, nil
	})
	all := map[model.NodeKind]action.Effect{
		model.NODE_EMAIL:        record,
		model.NODE_HTTP:         record,
		model.NODE_WEBHOOK_CALL: record,
		model.NODE_DATABASE_OP:  record,
	}
	for kind, effect := range effects {
		all[kind] = effect
	}
	predicate := action.DefaultPredicate{}
	registry := action.NewRegistry(predicate, all)
	h.v1 = New(h.store, registry, predicate, Options{Version: model.ENGINE_V1, Branching: BRANCH_FIRST, Sink: h.sink})
	h.v2 = New(h.store, registry, predicate, Options{Version: model.ENGINE_V2, Branching: BRANCH_GUARDED, Sink: h.sink})
	h.resumer = NewResumer(h.store, h.flows, NewVariants(model.ENGINE_V2, h.v1, h.v2), h.sink)
	return h
}

func (h *harness) flow(t *testing.T, def *model.WorkflowDefinition) *flow.Flow {
	if def.Version == 0 {
		def.Version = 1
	}
	fl, err := flow.New(def)
	require.NoError(t, err)
	h.flows[fmt.Sprintf("%s:%d", def.ID, def.Version)] = fl
	return fl
}

func (h *harness) visited() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func chain(id string, kinds ...model.NodeKind) *model.WorkflowDefinition {
	def := &model.WorkflowDefinition{ID: id, IsActive: true}
	for i, kind := range kinds {
		nodeID := string(kind)
		def.Nodes = append(def.Nodes, model.Node{ID: nodeID, Kind: kind})
		if i > 0 {
			def.Edges = append(def.Edges, model.Edge{
				ID:           fmt.Sprintf("e%d", i),
				SourceNodeID: string(kinds[i-1]),
				TargetNodeID: nodeID,
			})
		}
	}
	return def
}

func stepByNode(t *testing.T, h *harness, executionID string, nodeID string) *model.StepExecution {
	steps, err := h.store.ListSteps(context.Background(), executionID)
	require.NoError(t, err)
	for _, step := range steps {
		if step.NodeID == nodeID {
			return step
		}
	}
	return nil
}

func TestStartRejectsInvalidGraph(t *testing.T) {
	h := newHarness(t, nil)
	def := chain("wf", model.NODE_START, model.NODE_END)
	def.Nodes = append(def.Nodes, model.Node{ID: "second", Kind: model.NODE_START})
	_, err := flow.New(def)
	require.Error(t, err)
	require.Empty(t, h.visited())
}

func TestLinearRunCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_EMAIL, model.NODE_HTTP, model.NODE_END))

	for _, eng := range []*Engine{h.v1, h.v2} {
		out, err := eng.Start(ctx, fl, map[string]any{"name": "ada"}, "test")
		require.NoError(t, err)
		require.Equal(t, OUTCOME_COMPLETED, out.Status)
		require.Equal(t, "end", out.NodeID)

		exec, err := h.store.GetExecution(ctx, out.ExecutionID)
		require.NoError(t, err)
		require.Equal(t, model.EXECUTION_COMPLETED, exec.Status)
		require.NotNil(t, exec.CompletedAt)

		steps, err := h.store.ListSteps(ctx, out.ExecutionID)
		require.NoError(t, err)
		require.Len(t, steps, 4)
		for _, step := range steps {
			require.Equal(t, model.STEP_COMPLETED, step.Status)
		}
		http := stepByNode(t, h, out.ExecutionID, "http")
		require.Equal(t, map[string]any{"ok": true}, http.InputData["email"])
		require.Equal(t, "ada", http.InputData["name"])
	}
	require.Equal(t, []string{"email", "http", "email", "http"}, h.visited())
}

func TestNoOutgoingEdgeCompletes(t *testing.T) {
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_EMAIL))
	out, err := h.v2.Start(context.Background(), fl, nil, "test")
	require.NoError(t, err)
	require.Equal(t, OUTCOME_COMPLETED, out.Status)
	require.Equal(t, "email", out.NodeID)
}

func TestEffectFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[model.NodeKind]action.Effect{
		model.NODE_HTTP: action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
			return nil, errors.New("connection refused")
		}),
	})
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_HTTP, model.NODE_END))

	out, err := h.v1.Start(ctx, fl, nil, "test")
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, out.Status)
	require.Contains(t, out.Error, "connection refused")

	exec, err := h.store.GetExecution(ctx, out.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, exec.Status)
	require.Equal(t, out.Error, exec.ErrorMessage)

	step := stepByNode(t, h, out.ExecutionID, "http")
	require.Equal(t, model.STEP_FAILED, step.Status)
	require.Contains(t, step.ErrorMessage, "connection refused")
	require.Nil(t, stepByNode(t, h, out.ExecutionID, "end"))
	require.Contains(t, h.sink.types(), notification.STEP_FAILED)
	require.Contains(t, h.sink.types(), notification.EXECUTION_FAILED)
}

func TestEffectPanicFailsRun(t *testing.T) {
	h := newHarness(t, map[model.NodeKind]action.Effect{
		model.NODE_EMAIL: action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
			panic("boom")
		}),
	})
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_EMAIL, model.NODE_END))
	out, err := h.v2.Start(context.Background(), fl, nil, "test")
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, out.Status)
	require.Contains(t, out.Error, "panicked")
}

// P2
func TestSuspendAtFormAndApproval(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []model.NodeKind{model.NODE_FORM, model.NODE_APPROVAL} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t, nil)
			fl := h.flow(t, chain("wf", model.NODE_START, kind, model.NODE_EMAIL, model.NODE_END))
			out, err := h.v2.Start(ctx, fl, nil, "test")
			require.NoError(t, err)
			require.Equal(t, OUTCOME_SUSPENDED, out.Status)
			require.NotEmpty(t, out.StepID)

			exec, err := h.store.GetExecution(ctx, out.ExecutionID)
			require.NoError(t, err)
			require.Equal(t, model.EXECUTION_RUNNING, exec.Status)
			require.Equal(t, string(kind), exec.CurrentNodeID)

			step, err := h.store.GetStep(ctx, out.StepID)
			require.NoError(t, err)
			require.Equal(t, model.STEP_PENDING, step.Status)
			require.Nil(t, stepByNode(t, h, out.ExecutionID, "email"))
			require.Empty(t, h.visited())
		})
	}
}

// A second resume of the same step must not change anything.
func TestResumeApprovedCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_FORM, model.NODE_EMAIL, model.NODE_END))
	out, err := h.v2.Start(ctx, fl, map[string]any{"applicant": "ada"}, "test")
	require.NoError(t, err)
	require.Equal(t, OUTCOME_SUSPENDED, out.Status)

	resumed, err := h.resumer.Resume(ctx, out.StepID, model.DECISION_APPROVED, map[string]any{"age": 36})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_COMPLETED, resumed.Status)
	require.Equal(t, out.ExecutionID, resumed.ExecutionID)

	form, err := h.store.GetStep(ctx, out.StepID)
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, form.Status)
	require.Equal(t, "approved", form.OutputData["decision"])
	require.EqualValues(t, 36, form.OutputData["age"])

	email := stepByNode(t, h, out.ExecutionID, "email")
	require.NotNil(t, email)
	require.Equal(t, "ada", email.InputData["applicant"])
	require.Equal(t, []string{"email"}, h.visited())

	_, err = h.resumer.Resume(ctx, out.StepID, model.DECISION_APPROVED, nil)
	require.ErrorIs(t, err, ErrStepNotPending)
	again, err := h.store.GetStep(ctx, out.StepID)
	require.NoError(t, err)
	require.Equal(t, form, again)
	require.Equal(t, []string{"email"}, h.visited())
}

// The caller leaving after the step is completed does not fail the run.
func TestResumeOutlivesCallerContext(t *testing.T) {
	callerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, map[model.NodeKind]action.Effect{
		model.NODE_EMAIL: action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
			cancel()
			return map[string]any{"sent": true}, nil
		}),
	})
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_FORM, model.NODE_EMAIL, model.NODE_HTTP, model.NODE_END))
	out, err := h.v2.Start(context.Background(), fl, nil, "test")
	require.NoError(t, err)
	require.Equal(t, OUTCOME_SUSPENDED, out.Status)

	resumed, err := h.resumer.Resume(callerCtx, out.StepID, model.DECISION_APPROVED, nil)
	require.NoError(t, err)
	require.Error(t, callerCtx.Err())
	require.Equal(t, OUTCOME_COMPLETED, resumed.Status)
	require.Equal(t, []string{"http"}, h.visited())
	exec, err := h.store.GetExecution(context.Background(), out.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, exec.Status)
}

func TestResumeRunTimeoutFailsRun(t *testing.T) {
	h := newHarness(t, map[model.NodeKind]action.Effect{
		model.NODE_EMAIL: action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})
	h.resumer.SetRunTimeout(20 * time.Millisecond)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_FORM, model.NODE_EMAIL, model.NODE_END))
	out, err := h.v2.Start(context.Background(), fl, nil, "test")
	require.NoError(t, err)

	resumed, err := h.resumer.Resume(context.Background(), out.StepID, model.DECISION_APPROVED, nil)
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, resumed.Status)
	require.Contains(t, resumed.Error, "deadline exceeded")
}

func TestResumeRejectedFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_APPROVAL, model.NODE_EMAIL, model.NODE_END))
	out, err := h.v1.Start(ctx, fl, nil, "test")
	require.NoError(t, err)

	resumed, err := h.resumer.Resume(ctx, out.StepID, model.DECISION_REJECTED, map[string]any{"reason": "incomplete"})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, resumed.Status)
	require.Equal(t, "rejected at node approval", resumed.Error)

	step, err := h.store.GetStep(ctx, out.StepID)
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, step.Status)
	require.Equal(t, "rejected", step.OutputData["decision"])
	exec, err := h.store.GetExecution(ctx, out.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, exec.Status)
	require.Empty(t, h.visited())
}

func TestResumeValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_FORM, model.NODE_END))
	out, err := h.v2.Start(ctx, fl, nil, "test")
	require.NoError(t, err)

	_, err = h.resumer.Resume(ctx, out.StepID, "maybe", nil)
	require.ErrorIs(t, err, ErrInvalidDecision)

	require.NoError(t, h.resumer.Cancel(ctx, out.ExecutionID, "withdrawn"))
	_, err = h.resumer.Resume(ctx, out.StepID, model.DECISION_APPROVED, nil)
	require.ErrorIs(t, err, ErrStepNotPending)
	require.ErrorIs(t, h.resumer.Cancel(ctx, out.ExecutionID, ""), ErrExecutionNotRunning)

	exec, err := h.store.GetExecution(ctx, out.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, exec.Status)
	require.Equal(t, "cancelled: withdrawn", exec.ErrorMessage)
}

func TestCancelDuringRunIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	var h *harness
	h = newHarness(t, map[model.NodeKind]action.Effect{
		model.NODE_EMAIL: action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
			return nil, h.resumer.Cancel(context.Background(), req.ExecutionID, "operator")
		}),
	})
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_EMAIL, model.NODE_HTTP, model.NODE_END))
	out, err := h.v2.Start(ctx, fl, nil, "test")
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, out.Status)
	require.Equal(t, "cancelled: operator", out.Error)
	require.Empty(t, h.visited())

	exec, err := h.store.GetExecution(ctx, out.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, exec.Status)
	require.Equal(t, "cancelled: operator", exec.ErrorMessage)
	require.Equal(t, "email", exec.CurrentNodeID)
	require.Nil(t, stepByNode(t, h, out.ExecutionID, "http"))
}

func TestCancelDuringResumedRun(t *testing.T) {
	ctx := context.Background()
	var h *harness
	h = newHarness(t, map[model.NodeKind]action.Effect{
		model.NODE_EMAIL: action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
			return nil, h.resumer.Cancel(context.Background(), req.ExecutionID, "")
		}),
	})
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_FORM, model.NODE_EMAIL, model.NODE_END))
	out, err := h.v2.Start(ctx, fl, nil, "test")
	require.NoError(t, err)

	resumed, err := h.resumer.Resume(ctx, out.StepID, model.DECISION_APPROVED, nil)
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, resumed.Status)
	require.Equal(t, "cancelled", resumed.Error)
	exec, err := h.store.GetExecution(ctx, out.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, exec.Status)
}

func TestConcurrentResumeRunsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_APPROVAL, model.NODE_EMAIL, model.NODE_END))
	out, err := h.v2.Start(ctx, fl, nil, "test")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.resumer.Resume(ctx, out.StepID, model.DECISION_APPROVED, nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, succeeded)
	require.Equal(t, []string{"email"}, h.visited())
}

func branching(expression string, guards ...string) *model.WorkflowDefinition {
	def := &model.WorkflowDefinition{
		ID:       "branch",
		IsActive: true,
		Nodes: []model.Node{
			{ID: "start", Kind: model.NODE_START},
			{ID: "check", Kind: model.NODE_CONDITION, Config: map[string]any{"expression": expression}},
			{ID: "high", Kind: model.NODE_EMAIL},
			{ID: "low", Kind: model.NODE_HTTP},
		},
		Edges: []model.Edge{{ID: "e0", SourceNodeID: "start", TargetNodeID: "check"}},
	}
	targets := []string{"high", "low"}
	for i, guard := range guards {
		def.Edges = append(def.Edges, model.Edge{
			ID:           fmt.Sprintf("g%d", i),
			SourceNodeID: "check",
			TargetNodeID: targets[i],
			Condition:    guard,
		})
	}
	return def
}

func TestConditionBranching(t *testing.T) {
	scenarios := map[string]struct {
		expression string
		guards     []string
		input      map[string]any
		v1         []string
		v2         []string
		v2Status   OutcomeStatus
	}{
		"outcome true": {
			expression: "$.amount > 100",
			guards:     []string{"true", "false"},
			input:      map[string]any{"amount": 500},
			v1:         []string{"high"},
			v2:         []string{"high"},
			v2Status:   OUTCOME_COMPLETED,
		},
		"outcome false": {
			expression: "$.amount > 100",
			guards:     []string{"true", "false"},
			input:      map[string]any{"amount": 5},
			v1:         []string{"high"},
			v2:         []string{"low"},
			v2Status:   OUTCOME_COMPLETED,
		},
		"guard predicate with default": {
			guards:   []string{"$.tier === 'gold'", ""},
			input:    map[string]any{"tier": "silver"},
			v1:       []string{"high"},
			v2:       []string{"low"},
			v2Status: OUTCOME_COMPLETED,
		},
		"jsonpath guard": {
			guards:   []string{"{$.vip}", ""},
			input:    map[string]any{"vip": true},
			v1:       []string{"high"},
			v2:       []string{"high"},
			v2Status: OUTCOME_COMPLETED,
		},
		"no branch matched": {
			guards:   []string{"$.amount > 10", "$.amount < 0"},
			input:    map[string]any{"amount": 5},
			v1:       []string{"high"},
			v2:       nil,
			v2Status: OUTCOME_FAILED,
		},
	}
	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, nil)
			fl := h.flow(t, branching(sc.expression, sc.guards...))

			out, err := h.v1.Start(ctx, fl, sc.input, "test")
			require.NoError(t, err)
			require.Equal(t, OUTCOME_COMPLETED, out.Status)
			require.Equal(t, sc.v1, h.visited())

			h.calls = nil
			out, err = h.v2.Start(ctx, fl, sc.input, "test")
			require.NoError(t, err)
			require.Equal(t, sc.v2Status, out.Status)
			require.Equal(t, sc.v2, h.visited())
			if sc.v2Status == OUTCOME_FAILED {
				require.Contains(t, out.Error, "no outgoing edge of condition node check matched")
			}
		})
	}
}

func TestConditionResultStoredInContext(t *testing.T) {
	ctx := context.Background()
	var seen map[string]any
	h := newHarness(t, map[model.NodeKind]action.Effect{
		model.NODE_EMAIL: action.EffectFunc(func(ctx context.Context, req action.EffectRequest) (map[string]any, error) {
			seen = req.Data
			return nil, nil
		}),
	})
	fl := h.flow(t, branching("$.amount > 100", "true", "false"))
	_, err := h.v2.Start(ctx, fl, map[string]any{"amount": 101}, "test")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"result": true}, seen["check"])
}

func TestStepLimitStopsCycles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	def := &model.WorkflowDefinition{
		ID:       "loop",
		IsActive: true,
		Nodes: []model.Node{
			{ID: "start", Kind: model.NODE_START},
			{ID: "ping", Kind: model.NODE_HTTP},
			{ID: "again", Kind: model.NODE_CONDITION},
			{ID: "end", Kind: model.NODE_END},
		},
		Edges: []model.Edge{
			{ID: "e0", SourceNodeID: "start", TargetNodeID: "ping"},
			{ID: "e1", SourceNodeID: "ping", TargetNodeID: "again"},
			{ID: "e2", SourceNodeID: "again", TargetNodeID: "ping", Condition: "true"},
			{ID: "e3", SourceNodeID: "again", TargetNodeID: "end"},
		},
	}
	fl := h.flow(t, def)
	eng := New(h.store, h.v2.registry, h.v2.predicate, Options{Version: model.ENGINE_V2, Branching: BRANCH_GUARDED, MaxSteps: 9})
	out, err := eng.Start(ctx, fl, nil, "test")
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, out.Status)
	require.Equal(t, "step limit of 9 exceeded", out.Error)
	steps, err := h.store.ListSteps(ctx, out.ExecutionID)
	require.NoError(t, err)
	require.Len(t, steps, 9)
}

func TestCancelledContextFailsExecution(t *testing.T) {
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_EMAIL, model.NODE_END))
	ctx, cancel := context.WithCancel(context.Background())
	exec := &model.Execution{ID: "exec-1", WorkflowID: "wf", WorkflowVersion: 1, Status: model.EXECUTION_RUNNING, StartedAt: time.Now()}
	require.NoError(t, h.store.CreateExecution(context.Background(), exec))
	cancel()

	out, err := h.v2.Run(ctx, exec, fl, fl.StartNode, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, out.Status)
	require.Contains(t, out.Error, "context canceled")
	stored, err := h.store.GetExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, stored.Status)
}

func TestExpireSuspended(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	fl := h.flow(t, chain("wf", model.NODE_START, model.NODE_FORM, model.NODE_END))
	out, err := h.v2.Start(ctx, fl, nil, "test")
	require.NoError(t, err)

	expired, err := h.resumer.ExpireSuspended(ctx, time.Hour)
	require.NoError(t, err)
	require.Zero(t, expired)

	h.resumer.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	expired, err = h.resumer.ExpireSuspended(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	step, err := h.store.GetStep(ctx, out.StepID)
	require.NoError(t, err)
	require.Equal(t, model.STEP_FAILED, step.Status)
	exec, err := h.store.GetExecution(ctx, out.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_FAILED, exec.Status)
	require.Contains(t, exec.ErrorMessage, "timed out")
}

func TestVariants(t *testing.T) {
	h := newHarness(t, nil)
	v := NewVariants(model.ENGINE_V1, h.v1, h.v2)
	require.Same(t, h.v2, v.For(&model.WorkflowDefinition{EngineVersion: model.ENGINE_V2}))
	require.Same(t, h.v1, v.For(&model.WorkflowDefinition{}))
	require.Same(t, h.v1, v.Other(h.v2))
	require.Same(t, h.v2, v.Other(h.v1))
	require.Nil(t, NewVariants(model.ENGINE_V1, h.v1).Other(h.v1))
}
