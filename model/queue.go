package model

import "time"

type QueueStatus string

const (
	QUEUE_PENDING    QueueStatus = "pending"
	QUEUE_PROCESSING QueueStatus = "processing"
	QUEUE_COMPLETED  QueueStatus = "completed"
	QUEUE_FAILED     QueueStatus = "failed"
)

type QueueItemKind string

const (
	QUEUE_KIND_RUN          QueueItemKind = "run"
	QUEUE_KIND_DEV_CALLBACK QueueItemKind = "dev-callback"
)

const DEFAULT_MAX_ATTEMPTS = 3

type QueueItem struct {
	ID                  string         `json:"id"`
	WorkflowID          string         `json:"workflowId"`
	WorkflowVersion     int            `json:"workflowVersion,omitempty"`
	Kind                QueueItemKind  `json:"kind"`
	Status              QueueStatus    `json:"status"`
	InputData           map[string]any `json:"inputData,omitempty"`
	Attempts            int            `json:"attempts"`
	MaxAttempts         int            `json:"maxAttempts"`
	ErrorMessage        string         `json:"errorMessage,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	AvailableAt         time.Time      `json:"availableAt"`
	ProcessingStartedAt *time.Time     `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
}

// Exhausted reports whether one more failed attempt dead-letters the item.
func (q *QueueItem) Exhausted() bool {
	return q.Attempts+1 >= q.MaxAttempts
}
