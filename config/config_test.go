package config

import (
	"testing"

	"github.com/mohitkumar/flowgate/model"
	"github.com/stretchr/testify/require"
)

func valid() Config {
	return Config{
		StorageType:     STORAGE_TYPE_SQL,
		QueueType:       QUEUE_TYPE_STORE,
		RateLimiterType: RATE_LIMITER_QUEUE,
		EngineConfig:    EngineConfig{DefaultVersion: model.ENGINE_V2},
	}
}

func TestValidate(t *testing.T) {
	scenarios := map[string]struct {
		mutate func(*Config)
		ok     bool
	}{
		"defaults":        {func(c *Config) {}, true},
		"memory storage":  {func(c *Config) { c.StorageType = STORAGE_TYPE_INMEM }, true},
		"unknown storage": {func(c *Config) { c.StorageType = "cassandra" }, false},
		"unknown queue":   {func(c *Config) { c.QueueType = "sqs" }, false},
		"unknown engine":  {func(c *Config) { c.EngineConfig.DefaultVersion = "v3" }, false},
		"redis no addr":   {func(c *Config) { c.QueueType = QUEUE_TYPE_REDIS }, false},
		"redis limiter": {func(c *Config) {
			c.RateLimiterType = RATE_LIMITER_REDIS
			c.RedisConfig.Addrs = []string{"localhost:6379"}
		}, true},
	}
	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			c := valid()
			sc.mutate(&c)
			err := c.Validate()
			if sc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
