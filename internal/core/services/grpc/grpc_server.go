package grpc

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lcalzada-xor/accessoryd/internal/telemetry"
)

// ServiceName is the health service reported by the daemon.
const ServiceName = telemetry.ServiceName

// HealthServer reports SERVING while the device directory is enumerable.
// It implements ports.DirectoryHealth.
type HealthServer struct {
	*health.Server
	logger *slog.Logger
}

// NewHealthServer creates a health server with every service SERVING.
func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := &HealthServer{Server: health.NewServer(), logger: logger.With("component", "health")}
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return hs
}

// SetDirectoryAvailable flips the accessoryd service status.
func (h *HealthServer) SetDirectoryAvailable(available bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if available {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.logger.Debug("health status changed", "service", ServiceName, "status", status.String())
	h.SetServingStatus(ServiceName, status)
}

// NewGrpcServer builds the gRPC server exposing the health service.
func NewGrpcServer(hs *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, hs)
	return s
}
