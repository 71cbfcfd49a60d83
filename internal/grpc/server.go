package grpcserver

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sarathi/internal/auth"
	"sarathi/internal/config"
	"sarathi/internal/logger"
)

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"
)

// NewServer builds the gRPC server: the tracking service behind JWT interceptors plus the
// standard health service, which needs no credentials.
func NewServer(secret string, svc TrackingService, logg *logger.Logger) *grpc.Server {
	if logg == nil {
		logg = logger.Nop()
	}
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.NewUnaryAuthInterceptor(secret, healthCheckMethod)),
		grpc.StreamInterceptor(auth.NewStreamAuthInterceptor(secret, healthWatchMethod)),
	)
	RegisterTrackingServer(srv, &TrackingServer{Service: svc, Logger: logg})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(TrackingServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

// StartGRPC starts the gRPC server on the configured address and returns a shutdown function.
func StartGRPC(cfg *config.Config, svc TrackingService, logg *logger.Logger) (func(context.Context) error, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	addr := cfg.GRPC.Address
	if addr == "" {
		addr = ":50051"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	// Plaintext; terminate TLS in front of the service.
	srv := NewServer(cfg.Auth.JWTSecret, svc, logg)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logg.Error(context.Background(), "grpc server stopped", err)
		}
	}()
	logg.Info(logg.WithField(context.Background(), "addr", lis.Addr().String()), "grpc server listening")

	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() { srv.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}, nil
}
