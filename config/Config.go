package config

import (
	"fmt"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/notification"
	"github.com/mohitkumar/flowgate/persistence/redis"
	"github.com/mohitkumar/flowgate/persistence/sqlstore"
)

type StorageType string

type QueueType string

type RateLimiterType string

const STORAGE_TYPE_SQL StorageType = "sql"
const STORAGE_TYPE_INMEM StorageType = "memory"

const QUEUE_TYPE_STORE QueueType = "store"
const QUEUE_TYPE_REDIS QueueType = "redis"

const RATE_LIMITER_QUEUE RateLimiterType = "queue"
const RATE_LIMITER_REDIS RateLimiterType = "redis"

type Config struct {
	HttpPort           int
	GrpcPort           int
	LogLevel           string
	LogDevelopment     bool
	StorageType        StorageType
	QueueType          QueueType
	RateLimiterType    RateLimiterType
	SQLConfig          sqlstore.Config
	RedisConfig        redis.Config
	EngineConfig       EngineConfig
	QueueConfig        QueueConfig
	WorkerConfig       WorkerConfig
	ScheduleConfig     ScheduleConfig
	HTTPEffectConfig   HTTPEffectConfig
	SMTPConfig         SMTPConfig
	NotificationConfig notification.Config
	FlowCacheTTL       time.Duration
	// TrustedProxies may set X-Forwarded-For on webhook requests.
	TrustedProxies []string
}

type EngineConfig struct {
	// DefaultVersion runs workflows that do not name an engine version.
	DefaultVersion model.EngineVersion
	MaxSteps       int
	SuspendTimeout time.Duration
	JSTimeout      time.Duration
	// ResumeTimeout bounds the run a resume continues into; it outlives the caller.
	ResumeTimeout time.Duration
}

type QueueConfig struct {
	MaxAttempts          int
	LeaseTTL             time.Duration
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

type WorkerConfig struct {
	BatchSize        int
	ItemTimeout      time.Duration
	DevCallbacks     bool
	MaxCallbackDelay time.Duration
	// PollInterval self-ticks the worker; 0 leaves ticking to an external caller.
	PollInterval time.Duration
}

type ScheduleConfig struct {
	// TickInterval self-ticks the schedule trigger; 0 leaves it to an external caller.
	TickInterval time.Duration
}

type HTTPEffectConfig struct {
	Timeout time.Duration
}

type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

func (c Config) Validate() error {
	switch c.StorageType {
	case STORAGE_TYPE_SQL, STORAGE_TYPE_INMEM:
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	switch c.QueueType {
	case QUEUE_TYPE_STORE, QUEUE_TYPE_REDIS:
	default:
		return fmt.Errorf("unknown queue type %q", c.QueueType)
	}
	switch c.RateLimiterType {
	case RATE_LIMITER_QUEUE, RATE_LIMITER_REDIS:
	default:
		return fmt.Errorf("unknown rate limiter type %q", c.RateLimiterType)
	}
	switch c.EngineConfig.DefaultVersion {
	case model.ENGINE_V1, model.ENGINE_V2:
	default:
		return fmt.Errorf("unknown engine version %q", c.EngineConfig.DefaultVersion)
	}
	if (c.QueueType == QUEUE_TYPE_REDIS || c.RateLimiterType == RATE_LIMITER_REDIS) && len(c.RedisConfig.Addrs) == 0 {
		return fmt.Errorf("redis address required")
	}
	return nil
}
