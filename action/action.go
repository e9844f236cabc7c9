package action

import (
	"context"
	"fmt"

	"github.com/mohitkumar/flowgate/model"
)

type Signal int

const (
	// SIGNAL_ADVANCE moves to the next node.
	SIGNAL_ADVANCE Signal = iota
	// SIGNAL_SUSPEND parks the execution until a decision arrives.
	SIGNAL_SUSPEND
	// SIGNAL_TERMINATE completes the execution.
	SIGNAL_TERMINATE
)

func (s Signal) String() string {
	switch s {
	case SIGNAL_ADVANCE:
		return "advance"
	case SIGNAL_SUSPEND:
		return "suspend"
	case SIGNAL_TERMINATE:
		return "terminate"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

type Request struct {
	ExecutionID string
	WorkflowID  string
	StepID      string
	Node        *model.Node
	Data        map[string]any
}

type Result struct {
	Signal Signal
	Output map[string]any
	// Outcome is set by condition nodes that evaluated an expression.
	Outcome *bool
}

// Action executes one node kind.
type Action interface {
	Kind() model.NodeKind
	Execute(ctx context.Context, req Request) (*Result, error)
}

type NotRegisteredError struct {
	Kind model.NodeKind
}

func (e NotRegisteredError) Error() string {
	return fmt.Sprintf("no action registered for node kind %q", e.Kind)
}

// Registry maps node kinds to actions.
type Registry struct {
	actions map[model.NodeKind]Action
}

// NewRegistry registers the built-in control actions plus one effect action
// per entry in effects.
func NewRegistry(predicate Predicate, effects map[model.NodeKind]Effect) *Registry {
	r := &Registry{actions: make(map[model.NodeKind]Action)}
	r.Register(passThroughAction{})
	r.Register(suspendAction{kind: model.NODE_FORM})
	r.Register(suspendAction{kind: model.NODE_APPROVAL})
	r.Register(endAction{})
	r.Register(NewConditionAction(predicate))
	for kind, effect := range effects {
		r.Register(NewEffectAction(kind, effect))
	}
	return r
}

func (r *Registry) Register(a Action) {
	r.actions[a.Kind()] = a
}

func (r *Registry) Get(kind model.NodeKind) (Action, error) {
	a, ok := r.actions[kind]
	if !ok {
		return nil, NotRegisteredError{Kind: kind}
	}
	return a, nil
}
