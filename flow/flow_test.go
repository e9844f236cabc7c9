package flow

import (
	"testing"

	"github.com/mohitkumar/flowgate/model"
	"github.com/stretchr/testify/require"
)

func linear() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		ID: "wf", Version: 1, IsActive: true,
		Nodes: []model.Node{
			{ID: "s", Kind: model.NODE_START},
			{ID: "h", Kind: model.NODE_HTTP},
			{ID: "e", Kind: model.NODE_END},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "s", TargetNodeID: "h"},
			{ID: "e2", SourceNodeID: "h", TargetNodeID: "e"},
		},
	}
}

func TestNew(t *testing.T) {
	fl, err := New(linear())
	require.NoError(t, err)
	require.Equal(t, "s", fl.StartNode)
	require.Len(t, fl.Outgoing("s"), 1)
	require.Empty(t, fl.Outgoing("e"))
	n, ok := fl.Node("h")
	require.True(t, ok)
	require.Equal(t, model.NODE_HTTP, n.Kind)
}

func TestValidationFailures(t *testing.T) {
	for scenario, mutate := range map[string]func(def *model.WorkflowDefinition){
		"no start node": func(def *model.WorkflowDefinition) {
			def.Nodes[0].Kind = model.NODE_FORM
		},
		"two start nodes": func(def *model.WorkflowDefinition) {
			def.Nodes[1].Kind = model.NODE_START
		},
		"unknown kind": func(def *model.WorkflowDefinition) {
			def.Nodes[1].Kind = "fax"
		},
		"dangling edge": func(def *model.WorkflowDefinition) {
			def.Edges = append(def.Edges, model.Edge{ID: "x", SourceNodeID: "h", TargetNodeID: "missing"})
		},
		"unreachable node": func(def *model.WorkflowDefinition) {
			def.Nodes = append(def.Nodes, model.Node{ID: "orphan", Kind: model.NODE_EMAIL})
		},
		"branch on non-condition node": func(def *model.WorkflowDefinition) {
			def.Edges = append(def.Edges, model.Edge{ID: "e3", SourceNodeID: "s", TargetNodeID: "e"})
		},
		"edge out of end node": func(def *model.WorkflowDefinition) {
			def.Edges = append(def.Edges, model.Edge{ID: "e3", SourceNodeID: "e", TargetNodeID: "h"})
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			def := linear()
			mutate(def)
			err := Validate(def)
			require.Error(t, err)
			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, "wf", verr.WorkflowID)
		})
	}
}

func TestConditionBranches(t *testing.T) {
	def := &model.WorkflowDefinition{
		ID: "branchy",
		Nodes: []model.Node{
			{ID: "s", Kind: model.NODE_START},
			{ID: "c", Kind: model.NODE_CONDITION},
			{ID: "a", Kind: model.NODE_END},
			{ID: "b", Kind: model.NODE_END},
		},
		Edges: []model.Edge{
			{ID: "1", SourceNodeID: "s", TargetNodeID: "c"},
			{ID: "2", SourceNodeID: "c", TargetNodeID: "a", Condition: "true"},
			{ID: "3", SourceNodeID: "c", TargetNodeID: "b"},
		},
	}
	fl, err := New(def)
	require.NoError(t, err)
	out := fl.Outgoing("c")
	require.Len(t, out, 2)
	require.Equal(t, "2", out[0].ID)

	def.Edges = append(def.Edges, model.Edge{ID: "4", SourceNodeID: "c", TargetNodeID: "a"})
	require.Error(t, Validate(def))
}
