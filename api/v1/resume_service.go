package api_v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ResumeService messages are structpb.Struct values:
//
//	Resume       {stepExecutionId, decision, payload} -> RunOutcome
//	GetExecution {executionId}                        -> {execution, steps}
//	Cancel       {executionId, reason}                -> {success}
const (
	ResumeService_Resume_FullMethodName       = "/flowgate.v1.ResumeService/Resume"
	ResumeService_GetExecution_FullMethodName = "/flowgate.v1.ResumeService/GetExecution"
	ResumeService_Cancel_FullMethodName       = "/flowgate.v1.ResumeService/Cancel"
)

type ResumeServiceServer interface {
	Resume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetExecution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type ResumeServiceClient interface {
	Resume(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetExecution(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Cancel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type resumeServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewResumeServiceClient(cc grpc.ClientConnInterface) ResumeServiceClient {
	return &resumeServiceClient{cc}
}

func (c *resumeServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *resumeServiceClient) Resume(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ResumeService_Resume_FullMethodName, in, opts...)
}

func (c *resumeServiceClient) GetExecution(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ResumeService_GetExecution_FullMethodName, in, opts...)
}

func (c *resumeServiceClient) Cancel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ResumeService_Cancel_FullMethodName, in, opts...)
}

func RegisterResumeServiceServer(s grpc.ServiceRegistrar, srv ResumeServiceServer) {
	s.RegisterService(&ResumeService_ServiceDesc, srv)
}

func unaryHandler(method string, call func(ResumeServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ResumeServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ResumeServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ResumeService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "flowgate.v1.ResumeService",
	HandlerType: (*ResumeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Resume",
			Handler:    unaryHandler(ResumeService_Resume_FullMethodName, ResumeServiceServer.Resume),
		},
		{
			MethodName: "GetExecution",
			Handler:    unaryHandler(ResumeService_GetExecution_FullMethodName, ResumeServiceServer.GetExecution),
		},
		{
			MethodName: "Cancel",
			Handler:    unaryHandler(ResumeService_Cancel_FullMethodName, ResumeServiceServer.Cancel),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowgate/v1/resume.proto",
}
