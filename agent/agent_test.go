package agent

import (
	"context"
	"testing"

	"github.com/mohitkumar/flowgate/config"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/queue"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	return config.Config{
		StorageType:     config.STORAGE_TYPE_INMEM,
		QueueType:       config.QUEUE_TYPE_STORE,
		RateLimiterType: config.RATE_LIMITER_QUEUE,
		EngineConfig:    config.EngineConfig{DefaultVersion: model.ENGINE_V2},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	conf := memoryConfig()
	conf.StorageType = "cassandra"
	_, err := New(conf)
	require.Error(t, err)
}

func TestAgentRunsQueuedWorkflow(t *testing.T) {
	a, err := New(memoryConfig())
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer func() {
		require.NoError(t, a.Shutdown())
	}()

	ctx := context.Background()
	_, err = a.metadataService.SaveWorkflow(ctx, &model.WorkflowDefinition{
		ID:       "ping",
		IsActive: true,
		Nodes: []model.Node{
			{ID: "start", Kind: model.NODE_START},
			{ID: "end", Kind: model.NODE_END},
		},
		Edges: []model.Edge{{ID: "e1", SourceNodeID: "start", TargetNodeID: "end"}},
	})
	require.NoError(t, err)

	_, err = a.queue.Enqueue(ctx, queue.EnqueueRequest{
		WorkflowID: "ping",
		Kind:       model.QUEUE_KIND_RUN,
		InputData:  map[string]any{"hello": "world"},
	})
	require.NoError(t, err)

	report, err := a.worker.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, string(model.ENGINE_V2), report.Results[0].Engine)

	exec, err := a.store.GetExecution(ctx, report.Results[0].ExecutionID)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, exec.Status)
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, err := New(memoryConfig())
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
}
