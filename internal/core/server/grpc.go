// Package server hosts the gRPC health service and the HTTP status and
// metrics endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall "".
const ServiceName = "watchkeeper.Engine"

// Readiness reports whether the engine finished its first reconcile.
type Readiness func() bool

// GRPCServer serves grpc.health.v1 with a status that follows Readiness.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	ready  Readiness
	addr   string
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewGRPCServer creates the health server bound to addr on Start.
func NewGRPCServer(addr string, ready Readiness, logger *slog.Logger) (*GRPCServer, error) {
	if ready == nil {
		return nil, fmt.Errorf("ready cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)

	s := &GRPCServer{server: srv, health: hs, ready: ready, addr: addr, logger: logger}
	s.refresh()
	return s, nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *GRPCServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start binds the listener and serves until Shutdown. The serving status
// is refreshed every interval while running.
func (s *GRPCServer) Start(ctx context.Context, interval time.Duration) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	if interval > 0 {
		go s.watch(ctx, interval)
	}
	s.logger.Info("grpc health server listening", "addr", listener.Addr().String())
	return s.server.Serve(listener)
}

func (s *GRPCServer) watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refresh()
		}
	}
}

func (s *GRPCServer) refresh() {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if s.ready() {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown marks the service NOT_SERVING and stops gracefully, forcing a
// stop after 30 seconds or when ctx ends.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
