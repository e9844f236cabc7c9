package notification

import (
	"context"
	"errors"
	"time"
)

type EventType string

const (
	EXECUTION_STARTED   EventType = "execution.started"
	EXECUTION_COMPLETED EventType = "execution.completed"
	EXECUTION_FAILED    EventType = "execution.failed"
	EXECUTION_SUSPENDED EventType = "execution.suspended"
	STEP_COMPLETED      EventType = "step.completed"
	STEP_FAILED         EventType = "step.failed"
)

type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"executionId"`
	WorkflowID  string         `json:"workflowId"`
	NodeID      string         `json:"nodeId,omitempty"`
	StepID      string         `json:"stepId,omitempty"`
	Message     string         `json:"message,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// Sink receives execution lifecycle events. Delivery failures never affect
// the execution that produced the event.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

type SinkType string

const (
	SINK_NONE     SinkType = "none"
	SINK_LOG_FILE SinkType = "log-file"
	SINK_NATS     SinkType = "nats"
)

type Config struct {
	Types    []SinkType
	FileName string
	NatsURL  string
	Subject  string
	// Async delivers through a buffered worker when > 0.
	AsyncCapacity int
}

type Noop struct{}

func (Noop) Notify(ctx context.Context, ev Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
