package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/flowgate/flow"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/notification"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/util"
	"go.uber.org/zap"
)

// DEFAULT_RUN_TIMEOUT bounds the run a resume continues into.
const DEFAULT_RUN_TIMEOUT = 2 * time.Minute

type FlowLoader interface {
	GetFlow(ctx context.Context, workflowID string, version int) (*flow.Flow, error)
}

// Resumer acts on executions from outside a run: it completes suspended
// steps, cancels executions and expires steps that waited too long.
type Resumer struct {
	store      persistence.ExecutionStore
	flows      FlowLoader
	variants   *Variants
	sink       notification.Sink
	runTimeout time.Duration
	now        func() time.Time
}

func NewResumer(store persistence.ExecutionStore, flows FlowLoader, variants *Variants, sink notification.Sink) *Resumer {
	if sink == nil {
		sink = notification.Noop{}
	}
	return &Resumer{
		store:      store,
		flows:      flows,
		variants:   variants,
		sink:       sink,
		runTimeout: DEFAULT_RUN_TIMEOUT,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetRunTimeout changes how long a resumed run may take; d <= 0 keeps the default.
func (r *Resumer) SetRunTimeout(d time.Duration) {
	if d > 0 {
		r.runTimeout = d
	}
}

// Resume completes the pending step stepID with decision and continues the
// execution when it was approved. Once the step is completed the continued
// run ignores ctx cancellation and is bounded by the run timeout instead.
func (r *Resumer) Resume(ctx context.Context, stepID string, decision model.Decision, payload map[string]any) (*RunOutcome, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	step, err := r.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status != model.STEP_PENDING {
		return nil, fmt.Errorf("%w: step %s is %s", ErrStepNotPending, stepID, step.Status)
	}
	exec, err := r.store.GetExecution(ctx, step.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != model.EXECUTION_RUNNING {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrExecutionNotRunning, exec.ID, exec.Status)
	}
	fl, err := r.flows.GetFlow(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", exec.WorkflowID, err)
	}
	eng := r.variants.For(fl.Definition)

	now := r.now()
	output := util.MergeMaps(step.OutputData, payload, map[string]any{"decision": string(decision)})
	step.Status = model.STEP_COMPLETED
	step.OutputData = output
	step.CompletedAt = &now
	ok, err := r.store.TransitionStep(ctx, step, model.STEP_PENDING)
	if err != nil {
		return nil, fmt.Errorf("completing step %s: %w", stepID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: step %s was resumed concurrently", ErrStepNotPending, stepID)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.runTimeout)
	defer cancel()
	eng.opts.Metrics.StepFinished(string(step.NodeKind), string(model.STEP_COMPLETED))
	r.notify(ctx, notification.Event{Type: notification.STEP_COMPLETED, ExecutionID: exec.ID, WorkflowID: exec.WorkflowID, NodeID: step.NodeID, StepID: step.ID, Data: output})
	logger.Info("step resumed", zap.String("execution", exec.ID), zap.String("step", stepID), zap.String("decision", string(decision)))

	if decision == model.DECISION_REJECTED {
		return eng.fail(exec, step.NodeID, fmt.Sprintf("rejected at node %s", step.NodeID))
	}
	node, found := fl.Node(step.NodeID)
	if !found {
		return eng.fail(exec, step.NodeID, fmt.Sprintf("node %s not found in workflow %s", step.NodeID, exec.WorkflowID))
	}
	data := util.MergeMaps(step.InputData, map[string]any{node.ID: output})
	next, err := eng.Next(ctx, fl, node, data, nil)
	if err != nil {
		return eng.fail(exec, node.ID, err.Error())
	}
	if next == "" {
		return eng.complete(exec, node.ID)
	}
	return eng.Run(ctx, exec, fl, next, data)
}

// Cancel fails a running execution and any step still waiting in it.
func (r *Resumer) Cancel(ctx context.Context, executionID string, reason string) error {
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != model.EXECUTION_RUNNING {
		return fmt.Errorf("%w: execution %s is %s", ErrExecutionNotRunning, exec.ID, exec.Status)
	}
	steps, err := r.store.ListSteps(ctx, executionID)
	if err != nil {
		return err
	}
	msg := "cancelled"
	if reason != "" {
		msg = "cancelled: " + reason
	}
	for _, step := range steps {
		if step.Status != model.STEP_PENDING {
			continue
		}
		if _, err := r.failStep(ctx, step, msg); err != nil {
			return err
		}
	}
	return r.finishFailed(ctx, exec, msg)
}

// ExpireSuspended fails steps pending since before now-timeout together with
// their executions. It returns the number of steps expired.
func (r *Resumer) ExpireSuspended(ctx context.Context, timeout time.Duration) (int, error) {
	steps, err := r.store.ListPendingSteps(ctx, r.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, step := range steps {
		msg := fmt.Sprintf("step %s at node %s timed out after %s", step.ID, step.NodeID, timeout)
		ok, err := r.failStep(ctx, step, msg)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++
		exec, err := r.store.GetExecution(ctx, step.ExecutionID)
		if err != nil {
			return expired, err
		}
		if exec.Status != model.EXECUTION_RUNNING {
			continue
		}
		if err := r.finishFailed(ctx, exec, msg); err != nil && !errors.Is(err, ErrExecutionNotRunning) {
			return expired, err
		}
	}
	return expired, nil
}

func (r *Resumer) failStep(ctx context.Context, step *model.StepExecution, msg string) (bool, error) {
	now := r.now()
	step.Status = model.STEP_FAILED
	step.ErrorMessage = msg
	step.CompletedAt = &now
	ok, err := r.store.TransitionStep(ctx, step, model.STEP_PENDING)
	if err != nil {
		return false, fmt.Errorf("failing step %s: %w", step.ID, err)
	}
	return ok, nil
}

func (r *Resumer) finishFailed(ctx context.Context, exec *model.Execution, msg string) error {
	fl, err := r.flows.GetFlow(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return fmt.Errorf("loading workflow %s: %w", exec.WorkflowID, err)
	}
	outcome, err := r.variants.For(fl.Definition).fail(exec, "", msg)
	if err != nil {
		return err
	}
	if outcome.Error != msg {
		return fmt.Errorf("%w: execution %s is %s", ErrExecutionNotRunning, exec.ID, exec.Status)
	}
	return nil
}

func (r *Resumer) notify(ctx context.Context, ev notification.Event) {
	ev.At = r.now()
	if err := r.sink.Notify(ctx, ev); err != nil {
		logger.Warn("notification failed", zap.String("type", string(ev.Type)), zap.String("execution", ev.ExecutionID), zap.Error(err))
	}
}
