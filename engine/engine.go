package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/action"
	"github.com/mohitkumar/flowgate/flow"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/metrics"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/notification"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Branching int

const (
	// BRANCH_FIRST follows the first outgoing edge and ignores guards.
	BRANCH_FIRST Branching = iota
	// BRANCH_GUARDED takes the first edge whose guard passes, else the unguarded edge.
	BRANCH_GUARDED
)

const DEFAULT_MAX_STEPS = 1000

type Options struct {
	Version   model.EngineVersion
	Branching Branching
	// MaxSteps bounds node visits per Run so cyclic graphs terminate.
	MaxSteps int
	Sink     notification.Sink
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Engine struct {
	store     persistence.ExecutionStore
	registry  *action.Registry
	predicate action.Predicate
	opts      Options
	tracer    trace.Tracer
}

func New(store persistence.ExecutionStore, registry *action.Registry, predicate action.Predicate, opts Options) *Engine {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DEFAULT_MAX_STEPS
	}
	if opts.Sink == nil {
		opts.Sink = notification.Noop{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:     store,
		registry:  registry,
		predicate: predicate,
		opts:      opts,
		tracer:    otel.Tracer("github.com/mohitkumar/flowgate/engine"),
	}
}

func (e *Engine) Version() model.EngineVersion {
	return e.opts.Version
}

// Start creates an execution for fl and runs it from the start node.
func (e *Engine) Start(ctx context.Context, fl *flow.Flow, input map[string]any, startedBy string) (*RunOutcome, error) {
	def := fl.Definition
	exec := &model.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		Status:          model.EXECUTION_RUNNING,
		CurrentNodeID:   fl.StartNode,
		StartedBy:       startedBy,
		StartedAt:       e.opts.Now(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}
	logger.Info("execution started", zap.String("execution", exec.ID), zap.String("workflow", def.ID),
		zap.Int("version", def.Version), zap.String("engine", string(e.opts.Version)))
	e.notify(ctx, notification.Event{Type: notification.EXECUTION_STARTED, ExecutionID: exec.ID, WorkflowID: exec.WorkflowID})
	return e.Run(ctx, exec, fl, fl.StartNode, util.CopyMap(input))
}

// Run walks fl from nodeID until the execution completes, fails or suspends.
func (e *Engine) Run(ctx context.Context, exec *model.Execution, fl *flow.Flow, nodeID string, data map[string]any) (*RunOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.String("workflow.id", exec.WorkflowID),
		attribute.String("engine.version", string(e.opts.Version)),
	))
	defer span.End()

	for visits := 0; ; visits++ {
		if err := ctx.Err(); err != nil {
			return e.fail(exec, nodeID, fmt.Sprintf("execution interrupted: %v", err))
		}
		if visits >= e.opts.MaxSteps {
			return e.fail(exec, nodeID, fmt.Sprintf("step limit of %d exceeded", e.opts.MaxSteps))
		}
		node, ok := fl.Node(nodeID)
		if !ok {
			return e.fail(exec, nodeID, fmt.Sprintf("node %s not found in workflow %s", nodeID, exec.WorkflowID))
		}
		outcome, next, err := e.visit(ctx, exec, fl, node, data)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.abandon(exec, nodeID, err)
			return nil, err
		}
		if outcome != nil {
			if outcome.Status == OUTCOME_FAILED {
				span.SetStatus(codes.Error, outcome.Error)
			}
			span.SetAttributes(attribute.String("outcome", string(outcome.Status)))
			return outcome, nil
		}
		nodeID = next
	}
}

// visit executes one node. It returns either a final outcome or the id of the
// next node; a non-nil error means a store write failed.
func (e *Engine) visit(ctx context.Context, exec *model.Execution, fl *flow.Flow, node *model.Node, data map[string]any) (*RunOutcome, string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.kind", string(node.Kind)),
	))
	defer span.End()

	step := &model.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		NodeKind:    node.Kind,
		Status:      model.STEP_RUNNING,
		InputData:   util.CopyMap(data),
		StartedAt:   e.opts.Now(),
	}
	exec.CurrentNodeID = node.ID
	ok, err := e.store.TransitionExecution(ctx, exec, model.EXECUTION_RUNNING)
	if err != nil {
		return nil, "", fmt.Errorf("updating execution: %w", err)
	}
	if !ok {
		outcome, err := e.superseded(exec)
		return outcome, "", err
	}
	if err := e.store.CreateStep(ctx, step); err != nil {
		return nil, "", fmt.Errorf("recording step %s: %w", node.ID, err)
	}

	res, err := e.execute(ctx, exec, step, node, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if err := e.closeStep(ctx, step, model.STEP_FAILED, nil, err.Error()); err != nil {
			return nil, "", err
		}
		e.notify(ctx, notification.Event{Type: notification.STEP_FAILED, ExecutionID: exec.ID, WorkflowID: exec.WorkflowID, NodeID: node.ID, StepID: step.ID, Message: err.Error()})
		outcome, ferr := e.fail(exec, node.ID, err.Error())
		return outcome, "", ferr
	}

	switch res.Signal {
	case action.SIGNAL_SUSPEND:
		step.Status = model.STEP_PENDING
		step.OutputData = res.Output
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return nil, "", fmt.Errorf("suspending step %s: %w", node.ID, err)
		}
		e.opts.Metrics.StepFinished(string(node.Kind), string(model.STEP_PENDING))
		e.opts.Metrics.ExecutionFinished(string(OUTCOME_SUSPENDED))
		logger.Info("execution suspended", zap.String("execution", exec.ID), zap.String("node", node.ID), zap.String("step", step.ID))
		e.notify(ctx, notification.Event{Type: notification.EXECUTION_SUSPENDED, ExecutionID: exec.ID, WorkflowID: exec.WorkflowID, NodeID: node.ID, StepID: step.ID, Data: res.Output})
		return &RunOutcome{Status: OUTCOME_SUSPENDED, ExecutionID: exec.ID, NodeID: node.ID, StepID: step.ID}, "", nil
	case action.SIGNAL_TERMINATE:
		if err := e.closeStep(ctx, step, model.STEP_COMPLETED, res.Output, ""); err != nil {
			return nil, "", err
		}
		outcome, err := e.complete(exec, node.ID)
		return outcome, "", err
	}

	if err := e.closeStep(ctx, step, model.STEP_COMPLETED, res.Output, ""); err != nil {
		return nil, "", err
	}
	if len(res.Output) > 0 {
		data[node.ID] = res.Output
	}
	next, err := e.Next(ctx, fl, node, data, res.Outcome)
	if err != nil {
		outcome, ferr := e.fail(exec, node.ID, err.Error())
		return outcome, "", ferr
	}
	if next == "" {
		outcome, err := e.complete(exec, node.ID)
		return outcome, "", err
	}
	return nil, next, nil
}

func (e *Engine) execute(ctx context.Context, exec *model.Execution, step *model.StepExecution, node *model.Node, data map[string]any) (res *action.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("node panicked", zap.String("execution", exec.ID), zap.String("node", node.ID), zap.Any("panic", r))
			res, err = nil, fmt.Errorf("node %s panicked: %v", node.ID, r)
		}
	}()
	act, err := e.registry.Get(node.Kind)
	if err != nil {
		return nil, err
	}
	return act.Execute(ctx, action.Request{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		StepID:      step.ID,
		Node:        node,
		Data:        data,
	})
}

// Next picks the successor of node. An empty id means node has no successor.
func (e *Engine) Next(ctx context.Context, fl *flow.Flow, node *model.Node, data map[string]any, outcome *bool) (string, error) {
	edges := fl.Outgoing(node.ID)
	if len(edges) == 0 {
		return "", nil
	}
	if e.opts.Branching == BRANCH_FIRST {
		return edges[0].TargetNodeID, nil
	}
	fallback := ""
	for _, edge := range edges {
		if !edge.Guarded() {
			if fallback == "" {
				fallback = edge.TargetNodeID
			}
			continue
		}
		ok, err := e.guard(ctx, edge, data, outcome)
		if err != nil {
			return "", fmt.Errorf("evaluating guard of edge %s: %w", edge.ID, err)
		}
		if ok {
			return edge.TargetNodeID, nil
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	if node.Kind == model.NODE_CONDITION {
		return "", NoBranchError{NodeID: node.ID}
	}
	return "", nil
}

func (e *Engine) guard(ctx context.Context, edge model.Edge, data map[string]any, outcome *bool) (bool, error) {
	cond := strings.TrimSpace(edge.Condition)
	if outcome != nil {
		switch strings.ToLower(cond) {
		case "true":
			return *outcome, nil
		case "false":
			return !*outcome, nil
		}
	}
	return e.predicate.Evaluate(ctx, cond, data)
}

func (e *Engine) closeStep(ctx context.Context, step *model.StepExecution, status model.StepStatus, output map[string]any, errMsg string) error {
	now := e.opts.Now()
	step.Status = status
	step.OutputData = output
	step.ErrorMessage = errMsg
	step.CompletedAt = &now
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("closing step %s: %w", step.NodeID, err)
	}
	e.opts.Metrics.StepFinished(string(step.NodeKind), string(status))
	return nil
}

// finish writes a terminal execution state over a running one. It uses its own
// context so a cancelled run still records why it stopped.
func (e *Engine) finish(exec *model.Execution, status model.ExecutionStatus, nodeID string, errMsg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	now := e.opts.Now()
	exec.Status = status
	exec.CompletedAt = &now
	exec.ErrorMessage = errMsg
	if nodeID != "" {
		exec.CurrentNodeID = nodeID
	}
	ok, err := e.store.TransitionExecution(ctx, exec, model.EXECUTION_RUNNING)
	if err != nil {
		return fmt.Errorf("finishing execution %s: %w", exec.ID, err)
	}
	if !ok {
		return errSuperseded
	}
	e.opts.Metrics.ExecutionFinished(string(status))
	evType := notification.EXECUTION_COMPLETED
	if status == model.EXECUTION_FAILED {
		evType = notification.EXECUTION_FAILED
	}
	e.notify(ctx, notification.Event{Type: evType, ExecutionID: exec.ID, WorkflowID: exec.WorkflowID, NodeID: nodeID, Message: errMsg})
	return nil
}

func (e *Engine) complete(exec *model.Execution, nodeID string) (*RunOutcome, error) {
	if err := e.finish(exec, model.EXECUTION_COMPLETED, nodeID, ""); err != nil {
		if errors.Is(err, errSuperseded) {
			return e.superseded(exec)
		}
		return nil, err
	}
	logger.Info("execution completed", zap.String("execution", exec.ID), zap.String("workflow", exec.WorkflowID))
	return &RunOutcome{Status: OUTCOME_COMPLETED, ExecutionID: exec.ID, NodeID: nodeID}, nil
}

func (e *Engine) fail(exec *model.Execution, nodeID string, msg string) (*RunOutcome, error) {
	if err := e.finish(exec, model.EXECUTION_FAILED, nodeID, msg); err != nil {
		if errors.Is(err, errSuperseded) {
			return e.superseded(exec)
		}
		return nil, err
	}
	logger.Error("execution failed", zap.String("execution", exec.ID), zap.String("workflow", exec.WorkflowID), zap.String("node", nodeID), zap.String("error", msg))
	return &RunOutcome{Status: OUTCOME_FAILED, ExecutionID: exec.ID, NodeID: nodeID, Error: msg}, nil
}

// superseded reports the stored outcome of an execution that stopped running
// outside this run, for example through a cancel or an expired step.
func (e *Engine) superseded(exec *model.Execution) (*RunOutcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stored, err := e.store.GetExecution(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", exec.ID, err)
	}
	*exec = *stored
	logger.Warn("execution stopped outside this run", zap.String("execution", exec.ID), zap.String("status", string(exec.Status)))
	if exec.Status == model.EXECUTION_COMPLETED {
		return &RunOutcome{Status: OUTCOME_COMPLETED, ExecutionID: exec.ID, NodeID: exec.CurrentNodeID}, nil
	}
	return &RunOutcome{Status: OUTCOME_FAILED, ExecutionID: exec.ID, NodeID: exec.CurrentNodeID, Error: exec.ErrorMessage}, nil
}

// abandon records a run that stopped on a hard error as failed, so no
// execution is left running. The store may be the thing that failed, so an
// error here is only logged.
func (e *Engine) abandon(exec *model.Execution, nodeID string, cause error) {
	if _, err := e.fail(exec, nodeID, fmt.Sprintf("aborted: %v", cause)); err != nil {
		logger.Error("could not record aborted execution", zap.String("execution", exec.ID), zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context, ev notification.Event) {
	ev.At = e.opts.Now()
	if err := e.opts.Sink.Notify(ctx, ev); err != nil {
		logger.Warn("notification failed", zap.String("type", string(ev.Type)), zap.String("execution", ev.ExecutionID), zap.Error(err))
	}
}
