package action

import (
	"context"
	"fmt"

	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/util"
	"go.uber.org/zap"
)

type EffectRequest struct {
	ExecutionID string
	StepID      string
	Node        *model.Node
	// Params is the node config with {$.path} tokens resolved against Data.
	Params map[string]any
	Data   map[string]any
}

// IdempotencyKey is stable for a node within one execution.
func (r EffectRequest) IdempotencyKey() string {
	return r.ExecutionID + ":" + r.Node.ID
}

// Effect performs the side effect of an email, http, webhook-call or
// database-op node.
type Effect interface {
	Execute(ctx context.Context, req EffectRequest) (map[string]any, error)
}

type EffectFunc func(ctx context.Context, req EffectRequest) (map[string]any, error)

func (f EffectFunc) Execute(ctx context.Context, req EffectRequest) (map[string]any, error) {
	return f(ctx, req)
}

type effectAction struct {
	kind   model.NodeKind
	effect Effect
}

func NewEffectAction(kind model.NodeKind, effect Effect) Action {
	return &effectAction{kind: kind, effect: effect}
}

func (a *effectAction) Kind() model.NodeKind { return a.kind }

func (a *effectAction) Execute(ctx context.Context, req Request) (*Result, error) {
	logger.Debug("running effect", zap.String("kind", string(a.kind)), zap.String("node", req.Node.ID), zap.String("execution", req.ExecutionID))
	out, err := a.effect.Execute(ctx, EffectRequest{
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		Node:        req.Node,
		Params:      util.ResolveParams(req.Data, req.Node.Config),
		Data:        req.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("%s node %s: %w", a.kind, req.Node.ID, err)
	}
	return &Result{Signal: SIGNAL_ADVANCE, Output: out}, nil
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

type MissingParamError struct {
	Node  string
	Param string
}

func (e MissingParamError) Error() string {
	return fmt.Sprintf("node %s is missing required config %q", e.Node, e.Param)
}
