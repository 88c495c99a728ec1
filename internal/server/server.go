package server

import (
	"LendLedger/internal/observability"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server runs the gRPC service and the HTTP surface: gateway routes,
// health probes and metrics.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	log        zerolog.Logger
}

type Config struct {
	GRPCAddr string
	HTTPAddr string
}

// New registers srv on a gRPC server and builds the HTTP handler.
// metrics may be nil.
func New(cfg Config, srv LendingServer, checker *observability.HealthChecker, metrics http.Handler, log zerolog.Logger) (*Server, error) {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(statusInterceptor(log)))
	RegisterLendingServer(grpcServer, srv)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// grpcurl / grpcui
	reflection.Register(grpcServer)

	gw, err := NewGateway(srv)
	if err != nil {
		return nil, err
	}
	httpMux := http.NewServeMux()
	if checker != nil {
		httpMux.HandleFunc("/healthz", checker.LivenessHandler)
		httpMux.HandleFunc("/readyz", checker.ReadinessHandler)
	}
	if metrics != nil {
		httpMux.Handle("/metrics", metrics)
	}
	httpMux.Handle("/", gw)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		httpServer: &http.Server{Addr: cfg.HTTPAddr, Handler: httpMux, ReadHeaderTimeout: 5 * time.Second},
		grpcAddr:   cfg.GRPCAddr,
		httpAddr:   cfg.HTTPAddr,
		log:        log,
	}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GRPC exposes the gRPC server, e.g. to serve on a custom listener.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// statusInterceptor maps domain errors to status codes and logs failures.
func statusInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		st := toStatus(err)
		ev := log.Debug()
		if Code(err) == codes.Internal {
			ev = log.Error()
		}
		ev.Err(err).Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("rpc failed")
		return nil, st
	}
}

// StartGRPC serves until ctx is cancelled, then stops gracefully.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return errors.Wrap(err, "grpc listen")
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves until ctx is cancelled, then shuts down with a 5s grace.
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
