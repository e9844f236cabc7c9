package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/oliveagle/jsonpath"
)

// Predicate decides a boolean against the execution context.
type Predicate interface {
	Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error)
}

// JSPredicate evaluates a javascript expression with the context bound to $.
type JSPredicate struct {
	Timeout time.Duration
}

func (p JSPredicate) Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("encoding context: %w", err)
	}
	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;", encoded)); err != nil {
		return false, fmt.Errorf("error binding context %w", err)
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-timer.C:
			vm.Interrupt("expression timed out")
		case <-done:
		}
	}()
	val, err := vm.RunString(expression)
	if err != nil {
		return false, fmt.Errorf("error executing javascript %w", err)
	}
	return val.ToBoolean(), nil
}

// PathPredicate looks up a jsonpath token such as {$.input.approved} and
// reports whether the value is truthy.
type PathPredicate struct{}

func (PathPredicate) Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error) {
	path := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(expression), "{"), "}")
	value, err := jsonpath.JsonPathLookup(data, path)
	if err != nil {
		return false, nil
	}
	return truthy(value), nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return true
}

// DefaultPredicate routes single jsonpath tokens to PathPredicate and every
// other expression to JSPredicate.
type DefaultPredicate struct {
	JS   JSPredicate
	Path PathPredicate
}

func (p DefaultPredicate) Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error) {
	e := strings.TrimSpace(expression)
	if strings.HasPrefix(e, "{$") && strings.HasSuffix(e, "}") && strings.Count(e, "{") == 1 {
		return p.Path.Evaluate(ctx, e, data)
	}
	return p.JS.Evaluate(ctx, e, data)
}
