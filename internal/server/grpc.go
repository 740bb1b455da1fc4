// Package server builds and runs the relay's gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"salesops-relay/internal/health"
	"salesops-relay/internal/server/interceptors"
)

// healthCheckMethods are probed often and only logged at debug level.
var healthCheckMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
}

// Deps holds the services registered on the server.
type Deps struct {
	// Health is the readiness checker. Required.
	Health *health.Checker
	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
}

// NewServer returns a gRPC server with the otelgrpc stats handler and request logging.
func NewServer(deps Deps) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(deps.Logger, healthCheckMethods)),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers grpc.health.v1.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health.Server())
	}
}

// Serve listens on addr and serves s until ctx is done, then stops gracefully.
func Serve(ctx context.Context, addr string, s *grpc.Server, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	logger.Info("server: health endpoint listening", zap.String("addr", lis.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	}
}
