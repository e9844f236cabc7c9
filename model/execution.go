package model

import "time"

type ExecutionStatus string

const (
	EXECUTION_RUNNING   ExecutionStatus = "running"
	EXECUTION_COMPLETED ExecutionStatus = "completed"
	EXECUTION_FAILED    ExecutionStatus = "failed"
)

func (s ExecutionStatus) Terminal() bool {
	return s == EXECUTION_COMPLETED || s == EXECUTION_FAILED
}

type StepStatus string

const (
	STEP_RUNNING   StepStatus = "running"
	STEP_PENDING   StepStatus = "pending"
	STEP_COMPLETED StepStatus = "completed"
	STEP_FAILED    StepStatus = "failed"
)

type Decision string

const (
	DECISION_APPROVED Decision = "approved"
	DECISION_REJECTED Decision = "rejected"
)

func (d Decision) Valid() bool {
	return d == DECISION_APPROVED || d == DECISION_REJECTED
}

type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflowId"`
	WorkflowVersion int             `json:"workflowVersion"`
	Status          ExecutionStatus `json:"status"`
	CurrentNodeID   string          `json:"currentNodeId,omitempty"`
	StartedBy       string          `json:"startedBy,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
}

type StepExecution struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"executionId"`
	NodeID       string         `json:"nodeId"`
	NodeKind     NodeKind       `json:"nodeKind"`
	Status       StepStatus     `json:"status"`
	InputData    map[string]any `json:"inputData,omitempty"`
	OutputData   map[string]any `json:"outputData,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}
