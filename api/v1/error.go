package api_v1

import (
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

func withMessage(code codes.Code, msg string) *status.Status {
	st := status.New(code, msg)
	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: msg,
	}
	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}
	return std
}

type StepNotPendingError struct {
	StepID string
}

func (e StepNotPendingError) GRPCStatus() *status.Status {
	return withMessage(codes.FailedPrecondition, fmt.Sprintf("step %s is not pending", e.StepID))
}

func (e StepNotPendingError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type FailedPreconditionError struct {
	Message string
}

func (e FailedPreconditionError) GRPCStatus() *status.Status {
	return withMessage(codes.FailedPrecondition, e.Message)
}

func (e FailedPreconditionError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) GRPCStatus() *status.Status {
	return withMessage(codes.NotFound, fmt.Sprintf("%s %s not found", e.Resource, e.ID))
}

func (e NotFoundError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type InvalidArgumentError struct {
	Message string
}

func (e InvalidArgumentError) GRPCStatus() *status.Status {
	return withMessage(codes.InvalidArgument, e.Message)
}

func (e InvalidArgumentError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type StorageLayerError struct{}

func (e StorageLayerError) GRPCStatus() *status.Status {
	return withMessage(codes.Internal, "error in underline storage layer")
}

func (e StorageLayerError) Error() string {
	return e.GRPCStatus().Err().Error()
}
