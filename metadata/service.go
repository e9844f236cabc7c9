package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/cache"
	"github.com/mohitkumar/flowgate/flow"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/trigger"
	"go.uber.org/zap"
)

// Plain credentials accepted on save; they are stored only as hashes.
const (
	CRED_TOKEN = "token"
	CRED_KEY   = "key"
)

type MetadataStorage interface {
	persistence.WorkflowStore
	persistence.WebhookStore
	persistence.ScheduleStore
}

type MetadataService interface {
	SaveWorkflow(ctx context.Context, def *model.WorkflowDefinition) (*model.WorkflowDefinition, error)
	GetWorkflow(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error)
	GetFlow(ctx context.Context, id string, version int) (*flow.Flow, error)
	SaveWebhook(ctx context.Context, cfg *model.WebhookConfig) (*model.WebhookConfig, error)
	SaveSchedule(ctx context.Context, s *model.Schedule) (*model.Schedule, error)
}

type InvalidError struct {
	Message string
}

func (e InvalidError) Error() string {
	return e.Message
}

type MetadataServiceImpl struct {
	storage MetadataStorage
	flows   *cache.FlowCache
	now     func() time.Time
}

func NewMetadataService(storage MetadataStorage, flows *cache.FlowCache) *MetadataServiceImpl {
	return &MetadataServiceImpl{
		storage: storage,
		flows:   flows,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SaveWorkflow validates def and stores it. A zero version is assigned the
// next version of the workflow.
func (s *MetadataServiceImpl) SaveWorkflow(ctx context.Context, def *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	switch def.EngineVersion {
	case "", model.ENGINE_V1, model.ENGINE_V2:
	default:
		return nil, InvalidError{Message: fmt.Sprintf("unknown engine version %q", def.EngineVersion)}
	}
	if def.Version == 0 {
		latest, err := s.storage.GetWorkflow(ctx, def.ID, 0)
		switch {
		case err == nil:
			def.Version = latest.Version + 1
		case errors.Is(err, persistence.ErrNotFound):
			def.Version = 1
		default:
			return nil, err
		}
	}
	fl, err := flow.New(def)
	if err != nil {
		return nil, err
	}
	def.CreatedAt = s.now()
	if err := s.storage.SaveWorkflow(ctx, def); err != nil {
		return nil, err
	}
	s.flows.Save(fl)
	logger.Info("workflow saved", zap.String("workflow", def.ID), zap.Int("version", def.Version))
	return def, nil
}

func (s *MetadataServiceImpl) GetWorkflow(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error) {
	if version > 0 {
		if fl, ok := s.flows.Get(id, version); ok {
			return fl.Definition, nil
		}
	}
	return s.storage.GetWorkflow(ctx, id, version)
}

// GetFlow returns the compiled graph of a workflow version, 0 meaning latest.
func (s *MetadataServiceImpl) GetFlow(ctx context.Context, id string, version int) (*flow.Flow, error) {
	if version > 0 {
		if fl, ok := s.flows.Get(id, version); ok {
			return fl, nil
		}
	}
	def, err := s.storage.GetWorkflow(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if fl, ok := s.flows.Get(def.ID, def.Version); ok {
		return fl, nil
	}
	fl, err := flow.New(def)
	if err != nil {
		return nil, err
	}
	s.flows.Save(fl)
	return fl, nil
}

func (s *MetadataServiceImpl) SaveWebhook(ctx context.Context, cfg *model.WebhookConfig) (*model.WebhookConfig, error) {
	if _, err := s.storage.GetWorkflow(ctx, cfg.WorkflowID, 0); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.AuthType == "" {
		cfg.AuthType = model.AUTH_NONE
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, InvalidError{Message: "rate limit must not be negative"}
	}
	creds := make(map[string]string)
	for k, v := range cfg.Credentials {
		creds[k] = v
	}
	switch cfg.AuthType {
	case model.AUTH_NONE:
	case model.AUTH_BEARER:
		if err := hashCredential(creds, CRED_TOKEN, model.CRED_TOKEN_HASH); err != nil {
			return nil, err
		}
	case model.AUTH_APIKEY:
		if err := hashCredential(creds, CRED_KEY, model.CRED_KEY_HASH); err != nil {
			return nil, err
		}
	case model.AUTH_SECRET:
		if creds[model.CRED_SECRET] == "" {
			return nil, InvalidError{Message: "secret auth needs credentials.secret"}
		}
	default:
		return nil, InvalidError{Message: fmt.Sprintf("unknown auth type %q", cfg.AuthType)}
	}
	cfg.Credentials = creds
	if err := s.storage.SaveWebhookConfig(ctx, cfg); err != nil {
		return nil, err
	}
	logger.Info("webhook saved", zap.String("workflow", cfg.WorkflowID), zap.String("webhook", cfg.ID), zap.String("auth", string(cfg.AuthType)))
	return cfg, nil
}

// hashCredential replaces a plain credential with its SHA-256 hex digest.
func hashCredential(creds map[string]string, plain string, hashed string) error {
	if v, ok := creds[plain]; ok {
		sum := sha256.Sum256([]byte(v))
		creds[hashed] = hex.EncodeToString(sum[:])
		delete(creds, plain)
	}
	if creds[hashed] == "" {
		return InvalidError{Message: fmt.Sprintf("credentials need %s or %s", plain, hashed)}
	}
	return nil
}

func (s *MetadataServiceImpl) SaveSchedule(ctx context.Context, sched *model.Schedule) (*model.Schedule, error) {
	if _, err := s.storage.GetWorkflow(ctx, sched.WorkflowID, 0); err != nil {
		return nil, err
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	next, err := trigger.NextRun(sched.CronExpression, sched.Timezone, s.now())
	if err != nil {
		return nil, InvalidError{Message: err.Error()}
	}
	sched.NextRunAt = &next
	if err := s.storage.SaveSchedule(ctx, sched); err != nil {
		return nil, err
	}
	logger.Info("schedule saved", zap.String("schedule", sched.ID), zap.String("workflow", sched.WorkflowID), zap.Time("next", next))
	return sched, nil
}
