package flow

import (
	"fmt"

	"github.com/mohitkumar/flowgate/model"
)

// Flow is a validated, indexed view of a WorkflowDefinition.
type Flow struct {
	Definition *model.WorkflowDefinition
	StartNode  string
	nodes      map[string]*model.Node
	outgoing   map[string][]model.Edge
}

type ValidationError struct {
	WorkflowID string
	Reason     string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %s", e.WorkflowID, e.Reason)
}

// New indexes def and checks its structure. Edges keep declaration order.
func New(def *model.WorkflowDefinition) (*Flow, error) {
	fl := &Flow{
		Definition: def,
		nodes:      make(map[string]*model.Node, len(def.Nodes)),
		outgoing:   make(map[string][]model.Edge),
	}
	invalid := func(format string, args ...any) error {
		return ValidationError{WorkflowID: def.ID, Reason: fmt.Sprintf(format, args...)}
	}
	for i := range def.Nodes {
		node := &def.Nodes[i]
		if node.ID == "" {
			return nil, invalid("node at index %d has no id", i)
		}
		if !node.Kind.Valid() {
			return nil, invalid("node %s has unknown kind %q", node.ID, node.Kind)
		}
		if _, dup := fl.nodes[node.ID]; dup {
			return nil, invalid("duplicate node id %s", node.ID)
		}
		fl.nodes[node.ID] = node
		if node.Kind == model.NODE_START {
			if fl.StartNode != "" {
				return nil, invalid("more than one start node (%s, %s)", fl.StartNode, node.ID)
			}
			fl.StartNode = node.ID
		}
	}
	if fl.StartNode == "" {
		return nil, invalid("no start node")
	}
	for _, edge := range def.Edges {
		if _, ok := fl.nodes[edge.SourceNodeID]; !ok {
			return nil, invalid("edge %s references unknown source %s", edge.ID, edge.SourceNodeID)
		}
		if _, ok := fl.nodes[edge.TargetNodeID]; !ok {
			return nil, invalid("edge %s references unknown target %s", edge.ID, edge.TargetNodeID)
		}
		fl.outgoing[edge.SourceNodeID] = append(fl.outgoing[edge.SourceNodeID], edge)
	}
	for id, edges := range fl.outgoing {
		node := fl.nodes[id]
		if node.Kind == model.NODE_END {
			return nil, invalid("end node %s has outgoing edges", id)
		}
		if node.Kind == model.NODE_CONDITION {
			unguarded := 0
			for _, e := range edges {
				if !e.Guarded() {
					unguarded++
				}
			}
			if unguarded > 1 {
				return nil, invalid("condition node %s has %d unguarded edges", id, unguarded)
			}
			continue
		}
		if len(edges) > 1 {
			return nil, invalid("node %s has %d outgoing edges, only condition nodes may branch", id, len(edges))
		}
	}
	seen := fl.reachable()
	for _, node := range def.Nodes {
		if id := node.ID; !seen[id] {
			return nil, invalid("node %s is not reachable from start", id)
		}
	}
	return fl, nil
}

func (f *Flow) reachable() map[string]bool {
	seen := map[string]bool{f.StartNode: true}
	stack := []string{f.StartNode}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range f.outgoing[cur] {
			if !seen[e.TargetNodeID] {
				seen[e.TargetNodeID] = true
				stack = append(stack, e.TargetNodeID)
			}
		}
	}
	return seen
}

func (f *Flow) Node(id string) (*model.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Outgoing returns the edges leaving id in declaration order.
func (f *Flow) Outgoing(id string) []model.Edge {
	return f.outgoing[id]
}

func Validate(def *model.WorkflowDefinition) error {
	_, err := New(def)
	return err
}
