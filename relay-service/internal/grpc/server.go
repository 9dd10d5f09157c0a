package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name probes can ask for.
const ServiceName = "relay.v1.Relay"

// HealthServer wraps a gRPC server exposing the standard health service.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	addr   net.Addr
}

// StartHealthServer listens on addr and serves grpc.health.v1.Health.
func StartHealthServer(addr string, logger zerolog.Logger) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		l := log.L()
		l.Info().Str("address", addr).Msg("grpc health server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return &HealthServer{server: s, health: hs, addr: lis.Addr()}, nil
}

// Addr returns the address the server listens on.
func (h *HealthServer) Addr() string {
	return h.addr.String()
}

// Drain reports NOT_SERVING so probes stop routing new sockets here.
func (h *HealthServer) Drain() {
	h.health.Shutdown()
}

// Stop drains and gracefully stops the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
