package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/mohitkumar/flowgate/action"
	api "github.com/mohitkumar/flowgate/api/v1"
	"github.com/mohitkumar/flowgate/engine"
	"github.com/mohitkumar/flowgate/flow"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence/memory"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type singleFlow struct {
	fl *flow.Flow
}

func (s singleFlow) GetFlow(ctx context.Context, workflowID string, version int) (*flow.Flow, error) {
	return s.fl, nil
}

func setup(t *testing.T) (api.ResumeServiceClient, *engine.Engine, *flow.Flow) {
	store := memory.NewStore()
	fl, err := flow.New(&model.WorkflowDefinition{
		ID:       "wf",
		Version:  1,
		IsActive: true,
		Nodes: []model.Node{
			{ID: "start", Kind: model.NODE_START},
			{ID: "approval", Kind: model.NODE_APPROVAL},
			{ID: "end", Kind: model.NODE_END},
		},
		Edges: []model.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "approval"},
			{ID: "e2", SourceNodeID: "approval", TargetNodeID: "end"},
		},
	})
	require.NoError(t, err)
	predicate := action.DefaultPredicate{}
	eng := engine.New(store, action.NewRegistry(predicate, nil), predicate, engine.Options{Version: model.ENGINE_V2, Branching: engine.BRANCH_GUARDED})
	resumer := engine.NewResumer(store, singleFlow{fl}, engine.NewVariants(model.ENGINE_V2, eng), nil)

	gsrv, err := NewGrpcServer(&GrpcConfig{Resumer: resumer, Executions: store})
	require.NoError(t, err)
	lis := bufconn.Listen(1 << 20)
	go gsrv.Serve(lis)
	t.Cleanup(gsrv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return api.NewResumeServiceClient(conn), eng, fl
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestResumeOverGrpc(t *testing.T) {
	ctx := context.Background()
	client, eng, fl := setup(t)
	out, err := eng.Start(ctx, fl, nil, "test")
	require.NoError(t, err)
	require.Equal(t, engine.OUTCOME_SUSPENDED, out.Status)

	req := mustStruct(t, map[string]any{"stepExecutionId": out.StepID, "decision": "approved", "payload": map[string]any{"by": "ops"}})
	res, err := client.Resume(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "completed", res.AsMap()["status"])

	_, err = client.Resume(ctx, req)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.FailedPrecondition, st.Code())
	require.Len(t, st.Details(), 1)
	msg, ok := st.Details()[0].(*errdetails.LocalizedMessage)
	require.True(t, ok)
	require.Contains(t, msg.Message, out.StepID)

	detail, err := client.GetExecution(ctx, mustStruct(t, map[string]any{"executionId": out.ExecutionID}))
	require.NoError(t, err)
	execution := detail.AsMap()["execution"].(map[string]any)
	require.Equal(t, "completed", execution["status"])
	require.Len(t, detail.AsMap()["steps"], 3)
}

func TestGrpcErrors(t *testing.T) {
	ctx := context.Background()
	client, eng, fl := setup(t)

	_, err := client.Resume(ctx, mustStruct(t, map[string]any{}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = client.Resume(ctx, mustStruct(t, map[string]any{"stepExecutionId": "missing", "decision": "approved"}))
	require.Equal(t, codes.NotFound, status.Code(err))
	_, err = client.GetExecution(ctx, mustStruct(t, map[string]any{"executionId": "missing"}))
	require.Equal(t, codes.NotFound, status.Code(err))

	out, err := eng.Start(ctx, fl, nil, "test")
	require.NoError(t, err)
	_, err = client.Resume(ctx, mustStruct(t, map[string]any{"stepExecutionId": out.StepID, "decision": "later"}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Cancel(ctx, mustStruct(t, map[string]any{"executionId": out.ExecutionID, "reason": "duplicate"}))
	require.NoError(t, err)
	_, err = client.Cancel(ctx, mustStruct(t, map[string]any{"executionId": out.ExecutionID}))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}
