package model

import "time"

type NodeKind string

const (
	NODE_START        NodeKind = "start"
	NODE_FORM         NodeKind = "form"
	NODE_APPROVAL     NodeKind = "approval"
	NODE_EMAIL        NodeKind = "email"
	NODE_HTTP         NodeKind = "http"
	NODE_WEBHOOK_CALL NodeKind = "webhook-call"
	NODE_DATABASE_OP  NodeKind = "database-op"
	NODE_CONDITION    NodeKind = "condition"
	NODE_END          NodeKind = "end"
)

var NodeKinds = []NodeKind{
	NODE_START, NODE_FORM, NODE_APPROVAL, NODE_EMAIL, NODE_HTTP,
	NODE_WEBHOOK_CALL, NODE_DATABASE_OP, NODE_CONDITION, NODE_END,
}

func (k NodeKind) Valid() bool {
	for _, nk := range NodeKinds {
		if nk == k {
			return true
		}
	}
	return false
}

// Suspends reports whether a node of this kind waits for an external decision.
func (k NodeKind) Suspends() bool {
	return k == NODE_FORM || k == NODE_APPROVAL
}

type EngineVersion string

const (
	ENGINE_V1 EngineVersion = "v1"
	ENGINE_V2 EngineVersion = "v2"
)

type Node struct {
	ID     string         `json:"id"`
	Kind   NodeKind       `json:"kind"`
	Name   string         `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes. Condition is an optional guard evaluated against
// the execution context when the engine picks the successor of SourceNodeID.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	Condition    string `json:"condition,omitempty"`
}

func (e Edge) Guarded() bool {
	return e.Condition != ""
}

type WorkflowDefinition struct {
	ID            string        `json:"id"`
	Version       int           `json:"version"`
	Name          string        `json:"name"`
	IsActive      bool          `json:"isActive"`
	EngineVersion EngineVersion `json:"engineVersion,omitempty"`
	Nodes         []Node        `json:"nodes"`
	Edges         []Edge        `json:"edges"`
	CreatedAt     time.Time     `json:"createdAt"`
}
