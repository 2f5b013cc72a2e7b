// ABOUTME: Optional gRPC server exposing the standard grpc.health.v1 service
// ABOUTME: Reports SERVING while the gateway runs and NOT_SERVING once shutdown starts

package gateway

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// relayServiceName is the health service name probes can ask about
const relayServiceName = "relay.Gateway"

// newHealthServer creates a gRPC server with the health service registered.
func newHealthServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	logger = logger.With("component", "grpc")

	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(relayServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server, hs
}

// loggingInterceptor logs each unary call at debug level.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			"method", info.FullMethod,
			"duration", time.Since(start),
			"error", err,
		)
		return resp, err
	}
}
