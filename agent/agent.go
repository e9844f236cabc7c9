package agent

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mohitkumar/flowgate/action"
	"github.com/mohitkumar/flowgate/cache"
	"github.com/mohitkumar/flowgate/config"
	"github.com/mohitkumar/flowgate/engine"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/metadata"
	"github.com/mohitkumar/flowgate/metrics"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/notification"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/persistence/memory"
	"github.com/mohitkumar/flowgate/persistence/redis"
	"github.com/mohitkumar/flowgate/persistence/sqlstore"
	"github.com/mohitkumar/flowgate/queue"
	"github.com/mohitkumar/flowgate/rest"
	"github.com/mohitkumar/flowgate/rpc"
	"github.com/mohitkumar/flowgate/trigger"
	"github.com/mohitkumar/flowgate/util"
	"github.com/mohitkumar/flowgate/worker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type Agent struct {
	Config          config.Config
	store           persistence.Store
	metrics         *metrics.Metrics
	sink            notification.Sink
	closers         []io.Closer
	metadataService *metadata.MetadataServiceImpl
	queue           *queue.Queue
	variants        *engine.Variants
	resumer         *engine.Resumer
	worker          *worker.Worker
	webhooks        *trigger.WebhookTrigger
	schedules       *trigger.ScheduleTrigger
	httpServer      *rest.Server
	grpcServer      *grpc.Server
	tickWorkers     []*util.TickWorker
	shutdown        bool
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(config.LogLevel, config.LogDevelopment); err != nil {
		return nil, err
	}
	a := &Agent{
		Config:  config,
		metrics: metrics.New(),
	}
	setup := []func() error{
		a.setupStore,
		a.setupNotification,
		a.setupMetadataService,
		a.setupQueue,
		a.setupEngines,
		a.setupWorker,
		a.setupTriggers,
		a.setupHttpServer,
		a.setupGrpcServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			a.closeAll()
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStore() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		a.store = memory.NewStore()
	case config.STORAGE_TYPE_SQL:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s, err := sqlstore.Open(ctx, a.Config.SQLConfig)
		if err != nil {
			return err
		}
		a.store = s
	}
	a.closers = append(a.closers, a.store)
	if a.Config.QueueType == config.QUEUE_TYPE_REDIS {
		rq := redis.NewRedisQueue(a.Config.RedisConfig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rq.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, rq)
		a.store = persistence.WithQueue(a.store, rq)
	}
	return nil
}

func (a *Agent) setupNotification() error {
	sink, closers, err := notification.Build(a.Config.NotificationConfig, &a.wg)
	// closed in reverse, so the async wrapper drains before the sinks under it
	for i := len(closers) - 1; i >= 0; i-- {
		a.closers = append(a.closers, closers[i])
	}
	if err != nil {
		return err
	}
	a.sink = sink
	return nil
}

func (a *Agent) setupMetadataService() error {
	a.metadataService = metadata.NewMetadataService(a.store, cache.NewFlowCache(a.Config.FlowCacheTTL))
	return nil
}

func (a *Agent) setupQueue() error {
	qc := a.Config.QueueConfig
	a.queue = queue.New(a.store, queue.Options{
		MaxAttempts:          qc.MaxAttempts,
		LeaseTTL:             qc.LeaseTTL,
		RetryInitialInterval: qc.RetryInitialInterval,
		RetryMaxInterval:     qc.RetryMaxInterval,
		Metrics:              a.metrics,
	})
	return nil
}

func (a *Agent) effects() map[model.NodeKind]action.Effect {
	httpEffect := action.NewHTTPEffect(a.Config.HTTPEffectConfig.Timeout)
	smtp := a.Config.SMTPConfig
	return map[model.NodeKind]action.Effect{
		model.NODE_HTTP:         httpEffect,
		model.NODE_WEBHOOK_CALL: &action.WebhookCallEffect{HTTP: httpEffect},
		model.NODE_EMAIL: &action.EmailEffect{Mailer: &action.SMTPMailer{
			Addr:     smtp.Addr,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
		}},
		model.NODE_DATABASE_OP: &action.DatabaseEffect{Records: a.store},
	}
}

func (a *Agent) setupEngines() error {
	ec := a.Config.EngineConfig
	predicate := action.DefaultPredicate{JS: action.JSPredicate{Timeout: ec.JSTimeout}}
	registry := action.NewRegistry(predicate, a.effects())
	newEngine := func(version model.EngineVersion, branching engine.Branching) *engine.Engine {
		return engine.New(a.store, registry, predicate, engine.Options{
			Version:   version,
			Branching: branching,
			MaxSteps:  ec.MaxSteps,
			Sink:      a.sink,
			Metrics:   a.metrics,
		})
	}
	a.variants = engine.NewVariants(ec.DefaultVersion,
		newEngine(model.ENGINE_V1, engine.BRANCH_FIRST),
		newEngine(model.ENGINE_V2, engine.BRANCH_GUARDED),
	)
	a.resumer = engine.NewResumer(a.store, a.metadataService, a.variants, a.sink)
	a.resumer.SetRunTimeout(ec.ResumeTimeout)
	return nil
}

func (a *Agent) setupWorker() error {
	wc := a.Config.WorkerConfig
	a.worker = worker.New(a.queue, a.metadataService, a.variants, a.resumer, worker.Options{
		BatchSize:        wc.BatchSize,
		ItemTimeout:      wc.ItemTimeout,
		DevCallbacks:     wc.DevCallbacks,
		MaxCallbackDelay: wc.MaxCallbackDelay,
		SuspendTimeout:   a.Config.EngineConfig.SuspendTimeout,
		Metrics:          a.metrics,
	})
	if wc.DevCallbacks {
		logger.Warn("dev callbacks enabled, do not use in production")
	}
	if wc.PollInterval > 0 {
		a.tickWorkers = append(a.tickWorkers, util.NewTickWorker("queue-worker", wc.PollInterval, func() {
			if _, err := a.worker.Tick(context.Background()); err != nil {
				logger.Error("queue worker tick failed", zap.Error(err))
			}
		}, &a.wg))
	}
	return nil
}

func (a *Agent) setupTriggers() error {
	var limiter trigger.RateLimiter
	if a.Config.RateLimiterType == config.RATE_LIMITER_REDIS {
		rl := redis.NewRateLimiter(a.Config.RedisConfig)
		a.closers = append(a.closers, rl)
		limiter = trigger.RedisLimiter{Limiter: rl}
	}
	a.webhooks = trigger.NewWebhookTrigger(a.store, a.queue, limiter, a.metrics)
	a.schedules = trigger.NewScheduleTrigger(a.store, a.queue, a.metrics)
	if interval := a.Config.ScheduleConfig.TickInterval; interval > 0 {
		a.tickWorkers = append(a.tickWorkers, util.NewTickWorker("schedule-trigger", interval, func() {
			if _, err := a.schedules.Tick(context.Background(), time.Now()); err != nil {
				logger.Error("schedule tick failed", zap.Error(err))
			}
		}, &a.wg))
	}
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, rest.Services{
		Metadata:   a.metadataService,
		Executions: a.store,
		Webhooks:   a.webhooks,
		Schedules:  a.schedules,
		Worker:     a.worker,
		Resumer:    a.resumer,
		Metrics:    a.metrics,

		TrustedProxies: a.Config.TrustedProxies,
	})
	return err
}

func (a *Agent) setupGrpcServer() error {
	var err error
	a.grpcServer, err = rpc.NewGrpcServer(&rpc.GrpcConfig{
		Resumer:    a.resumer,
		Executions: a.store,
	})
	return err
}

func (a *Agent) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.GrpcPort))
	if err != nil {
		return err
	}
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	go func() {
		logger.Info("starting grpc server on", zap.Int("port", a.Config.GrpcPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	for _, tw := range a.tickWorkers {
		tw.Start()
	}
	return nil
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	logger.Info("shutting down server")

	for _, tw := range a.tickWorkers {
		_ = tw.Stop()
	}
	_ = a.httpServer.Stop()
	logger.Info("stopping grpc server")
	a.grpcServer.GracefulStop()
	a.closeAll()
	a.wg.Wait()
	_ = logger.Sync()
	return nil
}

func (a *Agent) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Error("error closing resource", zap.Error(err))
		}
	}
	a.closers = nil
}
