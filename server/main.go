package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohitkumar/flowgate/agent"
	"github.com/mohitkumar/flowgate/config"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/notification"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().Int("grpc-port", 8099, "grpc port for resume and execution api")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().Bool("log-development", false, "human readable development logging")

	cmd.Flags().String("storage-impl", "sql", "storage implementation: sql or memory")
	cmd.Flags().String("sql-dialect", "sqlite", "sql dialect: sqlite, postgres or mysql")
	cmd.Flags().String("sql-dsn", "file:flowgate.db?_pragma=busy_timeout(5000)", "sql data source name")
	cmd.Flags().Int("sql-max-open-conns", 10, "max open sql connections")
	cmd.Flags().String("queue-impl", "store", "queue implementation: store or redis")
	cmd.Flags().String("rate-limiter", "queue", "webhook rate limiter: queue or redis")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().String("namespace", "flowgate", "namespace used in redis keys")

	cmd.Flags().String("engine-version", "v2", "engine used for workflows that do not pin one: v1 or v2")
	cmd.Flags().Int("engine-max-steps", 1000, "max nodes visited in one run before the execution fails")
	cmd.Flags().Duration("suspend-timeout", 0, "fail steps suspended longer than this, 0 disables")
	cmd.Flags().Duration("js-timeout", 0, "timeout of javascript edge conditions")
	cmd.Flags().Duration("resume-timeout", 0, "timeout of the run a resume continues into, 0 uses the default")

	cmd.Flags().Int("queue-max-attempts", 3, "attempts before a queue item is dead lettered")
	cmd.Flags().Duration("queue-lease-ttl", 0, "how long a claimed item may stay in processing")
	cmd.Flags().Duration("queue-retry-initial", 0, "initial retry backoff of failed items")
	cmd.Flags().Duration("queue-retry-max", 0, "max retry backoff of failed items")

	cmd.Flags().Int("worker-batch-size", 5, "items claimed per worker tick")
	cmd.Flags().Duration("worker-item-timeout", 0, "timeout of a single queue item")
	cmd.Flags().Duration("worker-poll-interval", 0, "self tick the worker, 0 waits for /queue/process")
	cmd.Flags().Bool("dev-callbacks", false, "enable simulated resume callbacks")
	cmd.Flags().Duration("dev-callback-max-delay", 0, "max delay of a simulated callback")
	cmd.Flags().Duration("schedule-tick-interval", 0, "self tick schedules, 0 waits for /schedule-trigger")

	cmd.Flags().Duration("http-effect-timeout", 0, "timeout of outbound http and webhook-call nodes")
	cmd.Flags().String("smtp-addr", "localhost:25", "smtp host:port for email nodes")
	cmd.Flags().String("smtp-from", "flowgate@localhost", "sender of email nodes")
	cmd.Flags().String("smtp-username", "", "smtp username")
	cmd.Flags().String("smtp-password", "", "smtp password")

	cmd.Flags().String("notification-sinks", "none", "comma separated sinks: none, log-file, nats")
	cmd.Flags().String("notification-file", "flowgate-events.log", "file of the log-file sink")
	cmd.Flags().String("nats-url", "nats://localhost:4222", "url of the nats sink")
	cmd.Flags().String("nats-subject", "flowgate.events", "subject of the nats sink")
	cmd.Flags().Int("notification-async-capacity", 0, "buffer notifications through a worker when > 0")
	cmd.Flags().Duration("flow-cache-ttl", 0, "ttl of compiled workflow graphs")
	cmd.Flags().String("trusted-proxies", "", "comma separated addresses or cidrs allowed to set X-Forwarded-For")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)
	viper.SetEnvPrefix("FLOWGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return err
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.GrpcPort = viper.GetInt("grpc-port")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.LogDevelopment = viper.GetBool("log-development")

	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.SQLConfig.Dialect = viper.GetString("sql-dialect")
	c.cfg.SQLConfig.DSN = viper.GetString("sql-dsn")
	c.cfg.SQLConfig.MaxOpenConns = viper.GetInt("sql-max-open-conns")
	c.cfg.QueueType = config.QueueType(viper.GetString("queue-impl"))
	c.cfg.RateLimiterType = config.RateLimiterType(viper.GetString("rate-limiter"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")

	c.cfg.EngineConfig.DefaultVersion = model.EngineVersion(viper.GetString("engine-version"))
	c.cfg.EngineConfig.MaxSteps = viper.GetInt("engine-max-steps")
	c.cfg.EngineConfig.SuspendTimeout = viper.GetDuration("suspend-timeout")
	c.cfg.EngineConfig.JSTimeout = viper.GetDuration("js-timeout")
	c.cfg.EngineConfig.ResumeTimeout = viper.GetDuration("resume-timeout")

	c.cfg.QueueConfig.MaxAttempts = viper.GetInt("queue-max-attempts")
	c.cfg.QueueConfig.LeaseTTL = viper.GetDuration("queue-lease-ttl")
	c.cfg.QueueConfig.RetryInitialInterval = viper.GetDuration("queue-retry-initial")
	c.cfg.QueueConfig.RetryMaxInterval = viper.GetDuration("queue-retry-max")

	c.cfg.WorkerConfig.BatchSize = viper.GetInt("worker-batch-size")
	c.cfg.WorkerConfig.ItemTimeout = viper.GetDuration("worker-item-timeout")
	c.cfg.WorkerConfig.PollInterval = viper.GetDuration("worker-poll-interval")
	c.cfg.WorkerConfig.DevCallbacks = viper.GetBool("dev-callbacks")
	c.cfg.WorkerConfig.MaxCallbackDelay = viper.GetDuration("dev-callback-max-delay")
	c.cfg.ScheduleConfig.TickInterval = viper.GetDuration("schedule-tick-interval")

	c.cfg.HTTPEffectConfig.Timeout = viper.GetDuration("http-effect-timeout")
	c.cfg.SMTPConfig.Addr = viper.GetString("smtp-addr")
	c.cfg.SMTPConfig.From = viper.GetString("smtp-from")
	c.cfg.SMTPConfig.Username = viper.GetString("smtp-username")
	c.cfg.SMTPConfig.Password = viper.GetString("smtp-password")

	for _, t := range strings.Split(viper.GetString("notification-sinks"), ",") {
		c.cfg.NotificationConfig.Types = append(c.cfg.NotificationConfig.Types, notification.SinkType(strings.TrimSpace(t)))
	}
	c.cfg.NotificationConfig.FileName = viper.GetString("notification-file")
	c.cfg.NotificationConfig.NatsURL = viper.GetString("nats-url")
	c.cfg.NotificationConfig.Subject = viper.GetString("nats-subject")
	c.cfg.NotificationConfig.AsyncCapacity = viper.GetInt("notification-async-capacity")
	c.cfg.FlowCacheTTL = viper.GetDuration("flow-cache-ttl")
	for _, p := range strings.Split(viper.GetString("trusted-proxies"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			c.cfg.TrustedProxies = append(c.cfg.TrustedProxies, p)
		}
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	err = agent.Start()
	if err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "flowgate",
		Short:   "workflow orchestration server",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
