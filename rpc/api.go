package rpc

import (
	"context"
	"errors"

	api "github.com/mohitkumar/flowgate/api/v1"
	"github.com/mohitkumar/flowgate/engine"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/mohitkumar/flowgate/util"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ api.ResumeServiceServer = (*grpcServer)(nil)

func (srv *grpcServer) Resume(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := util.FromStruct(req)
	stepID, _ := in["stepExecutionId"].(string)
	if stepID == "" {
		return nil, api.InvalidArgumentError{Message: "stepExecutionId is required"}
	}
	decision, _ := in["decision"].(string)
	payload, _ := in["payload"].(map[string]any)
	out, err := srv.Resumer.Resume(ctx, stepID, model.Decision(decision), payload)
	if err != nil {
		return nil, toStatus(err, "step", stepID)
	}
	return util.ToStruct(out)
}

func (srv *grpcServer) GetExecution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, _ := util.FromStruct(req)["executionId"].(string)
	if id == "" {
		return nil, api.InvalidArgumentError{Message: "executionId is required"}
	}
	exec, err := srv.Executions.GetExecution(ctx, id)
	if err != nil {
		return nil, toStatus(err, "execution", id)
	}
	steps, err := srv.Executions.ListSteps(ctx, id)
	if err != nil {
		return nil, toStatus(err, "execution", id)
	}
	return util.ToStruct(map[string]any{"execution": exec, "steps": steps})
}

func (srv *grpcServer) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := util.FromStruct(req)
	id, _ := in["executionId"].(string)
	if id == "" {
		return nil, api.InvalidArgumentError{Message: "executionId is required"}
	}
	reason, _ := in["reason"].(string)
	if err := srv.Resumer.Cancel(ctx, id, reason); err != nil {
		return nil, toStatus(err, "execution", id)
	}
	return util.ToStruct(map[string]any{"success": true, "executionId": id})
}

func toStatus(err error, resource string, id string) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return api.NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, engine.ErrStepNotPending):
		return api.StepNotPendingError{StepID: id}
	case errors.Is(err, engine.ErrExecutionNotRunning):
		return api.FailedPreconditionError{Message: err.Error()}
	case errors.Is(err, engine.ErrInvalidDecision):
		return api.InvalidArgumentError{Message: err.Error()}
	case errors.As(err, &persistence.StorageLayerError{}):
		return api.StorageLayerError{}
	}
	return err
}
