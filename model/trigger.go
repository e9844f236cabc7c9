package model

import "time"

type Schedule struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflowId"`
	CronExpression string         `json:"cronExpression"`
	Timezone       string         `json:"timezone,omitempty"`
	IsActive       bool           `json:"isActive"`
	InputData      map[string]any `json:"inputData,omitempty"`
	LastRunAt      *time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time     `json:"nextRunAt,omitempty"`
}

type AuthType string

const (
	AUTH_NONE   AuthType = "none"
	AUTH_BEARER AuthType = "bearer"
	AUTH_APIKEY AuthType = "apikey"
	AUTH_SECRET AuthType = "secret"
)

// Credential keys inside WebhookConfig.Credentials.
const (
	CRED_TOKEN_HASH = "token_hash"
	CRED_KEY_HASH   = "key_hash"
	CRED_SECRET     = "secret"
)

type WebhookConfig struct {
	ID                 string            `json:"id"`
	WorkflowID         string            `json:"workflowId"`
	IsActive           bool              `json:"isActive"`
	AuthType           AuthType          `json:"authType"`
	Credentials        map[string]string `json:"credentials,omitempty"`
	PayloadSchema      map[string]any    `json:"payloadSchema,omitempty"`
	RateLimitPerMinute int               `json:"rateLimitPerMinute"`
}

type WebhookEvent struct {
	ID              string    `json:"id"`
	WebhookConfigID string    `json:"webhookConfigId"`
	WorkflowID      string    `json:"workflowId"`
	QueueID         string    `json:"queueId"`
	SourceAddress   string    `json:"sourceAddress,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Record is a row written by database-op nodes.
type Record struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
