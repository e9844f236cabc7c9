package action

import (
	"context"
	"fmt"

	"github.com/mohitkumar/flowgate/model"
)

type passThroughAction struct{}

func (passThroughAction) Kind() model.NodeKind { return model.NODE_START }

func (passThroughAction) Execute(ctx context.Context, req Request) (*Result, error) {
	return &Result{Signal: SIGNAL_ADVANCE}, nil
}

type suspendAction struct {
	kind model.NodeKind
}

func (a suspendAction) Kind() model.NodeKind { return a.kind }

// Execute records what the node asks for; form nodes expose their fields and
// approval nodes their approver so a caller can render the request.
func (a suspendAction) Execute(ctx context.Context, req Request) (*Result, error) {
	out := map[string]any{"awaiting": string(a.kind)}
	for _, key := range []string{"fields", "approver", "title"} {
		if v, ok := req.Node.Config[key]; ok {
			out[key] = v
		}
	}
	return &Result{Signal: SIGNAL_SUSPEND, Output: out}, nil
}

type endAction struct{}

func (endAction) Kind() model.NodeKind { return model.NODE_END }

func (endAction) Execute(ctx context.Context, req Request) (*Result, error) {
	return &Result{Signal: SIGNAL_TERMINATE}, nil
}

type conditionAction struct {
	predicate Predicate
}

func NewConditionAction(predicate Predicate) Action {
	return &conditionAction{predicate: predicate}
}

func (c *conditionAction) Kind() model.NodeKind { return model.NODE_CONDITION }

func (c *conditionAction) Execute(ctx context.Context, req Request) (*Result, error) {
	expression, _ := req.Node.Config["expression"].(string)
	if expression == "" {
		return &Result{Signal: SIGNAL_ADVANCE}, nil
	}
	ok, err := c.predicate.Evaluate(ctx, expression, req.Data)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", req.Node.ID, err)
	}
	return &Result{
		Signal:  SIGNAL_ADVANCE,
		Output:  map[string]any{"result": ok},
		Outcome: &ok,
	}, nil
}
