// Package interceptors holds the relay's gRPC server interceptors.
package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC with its status and duration.
// Methods in skipMethods (e.g. frequent health probes) are logged at debug level only.
func LoggingUnary(logger *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case skipMethods[info.FullMethod]:
			logger.Debug("grpc: request", fields...)
		case code != codes.OK:
			logger.Warn("grpc: request failed", append(fields, zap.Error(err))...)
		default:
			logger.Info("grpc: request", fields...)
		}
		return resp, err
	}
}
