// Package grpcserver hosts the gRPC health service probed by orchestrators.
// The service reports SERVING only while the database answers pings.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	// ServiceName is the health service name registered next to the overall ("") status.
	ServiceName = "picpaygo.Server"

	healthCheckMethod = "/grpc.health.v1.Health/Check"
	pingTimeout       = 2 * time.Second
)

// Pinger is a database handle that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the server.
type Options struct {
	ProbeInterval time.Duration
	Reflection    bool
	ServerOptions []grpc.ServerOption // e.g. grpc.Creds
}

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	srv      *grpc.Server
	health   *health.Server
	db       Pinger
	interval time.Duration
	log      *zap.Logger
}

// New builds the server. Status starts as NOT_SERVING until the first probe.
func New(db Pinger, opts Options, log *zap.Logger) *Server {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 5 * time.Second
	}
	sopts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	}, opts.ServerOptions...)
	s := grpc.NewServer(sopts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	srv := &Server{srv: s, health: hs, db: db, interval: opts.ProbeInterval, log: log}
	srv.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return srv
}

// Probe pings the database once and publishes the resulting status.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		s.log.Warn("database ping failed", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.set(st)
	return st
}

// Watch probes on every interval until ctx is done.
func (s *Server) Watch(ctx context.Context) {
	s.Probe(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Probe(ctx)
		}
	}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

// Stop marks the server as shutting down and stops gracefully, forcing
// the stop after timeout.
func (s *Server) Stop(timeout time.Duration) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.srv.Stop()
	}
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
