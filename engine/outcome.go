package engine

import (
	"errors"
	"fmt"
)

type OutcomeStatus string

const (
	OUTCOME_COMPLETED OutcomeStatus = "completed"
	OUTCOME_FAILED    OutcomeStatus = "failed"
	OUTCOME_SUSPENDED OutcomeStatus = "suspended"
)

// RunOutcome is where a run stopped. Node failures are reported here, not as
// errors; an error from the engine means the run could not be recorded.
type RunOutcome struct {
	Status      OutcomeStatus `json:"status"`
	ExecutionID string        `json:"executionId"`
	NodeID      string        `json:"nodeId,omitempty"`
	// StepID is the pending step when Status is suspended.
	StepID string `json:"stepId,omitempty"`
	Error  string `json:"error,omitempty"`
}

var (
	ErrStepNotPending      = errors.New("step is not pending")
	ErrExecutionNotRunning = errors.New("execution is not running")
	ErrInvalidDecision     = errors.New("decision must be approved or rejected")

	errSuperseded = errors.New("execution stopped running concurrently")
)

type NoBranchError struct {
	NodeID string
}

func (e NoBranchError) Error() string {
	return fmt.Sprintf("no outgoing edge of condition node %s matched", e.NodeID)
}
