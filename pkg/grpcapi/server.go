// Package grpcapi serves the gRPC health checking protocol for the agent so
// that orchestrators can probe it without speaking SNMP.
package grpcapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the SNMP agent.
// The empty name reports the same status.
const ServiceName = "snmpagentd.Agent"

// Server is the gRPC health server.
type Server struct {
	addr   string
	health *health.Server
}

// NewServer creates a server that listens on addr. Both service names start
// out NOT_SERVING.
func NewServer(addr string) *Server {
	s := &Server{addr: addr, health: health.NewServer()}
	s.SetServing(false)
	return s
}

// SetServing updates the reported status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve is Run on an existing listener. On return every service reports
// NOT_SERVING and watchers have been told so.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()
	srv.GracefulStop()
	return nil
}
