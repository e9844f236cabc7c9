package rpc

import (
	"fmt"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	api "github.com/mohitkumar/flowgate/api/v1"
	"github.com/mohitkumar/flowgate/engine"
	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/persistence"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type GrpcConfig struct {
	Resumer    *engine.Resumer
	Executions persistence.ExecutionStore
}

type grpcServer struct {
	*GrpcConfig
}

func NewGrpcServer(config *GrpcConfig) (*grpc.Server, error) {
	zl := logger.L().Named("grpc")
	zapOpts := []grpc_zap.Option{
		grpc_zap.WithDurationField(
			func(duration time.Duration) zapcore.Field {
				return zap.Int64(
					"grpc.time_ns",
					duration.Nanoseconds(),
				)
			},
		),
	}
	recoveryOpts := []grpc_recovery.Option{
		grpc_recovery.WithRecoveryHandler(func(p interface{}) error {
			zl.Error("grpc handler panicked", zap.Any("panic", p))
			return status.Error(codes.Internal, fmt.Sprintf("panic: %v", p))
		}),
	}
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(0.1)})
	if err := view.Register(ocgrpc.DefaultServerViews...); err != nil {
		return nil, err
	}
	grpcOpts := []grpc.ServerOption{
		grpc.StreamInterceptor(
			grpc_middleware.ChainStreamServer(
				grpc_ctxtags.StreamServerInterceptor(),
				grpc_zap.StreamServerInterceptor(zl, zapOpts...),
				grpc_recovery.StreamServerInterceptor(recoveryOpts...),
			)),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpc_zap.UnaryServerInterceptor(zl, zapOpts...),
			grpc_recovery.UnaryServerInterceptor(recoveryOpts...),
		)),
		grpc.StatsHandler(&ocgrpc.ServerHandler{}),
	}

	gsrv := grpc.NewServer(grpcOpts...)
	api.RegisterResumeServiceServer(gsrv, &grpcServer{GrpcConfig: config})
	return gsrv, nil
}
