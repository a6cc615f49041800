// Package gatewaysvc wires the gateway's subsystems (registry, router,
// approval, packdispatch, admin, binding, linking, storage, auth,
// observability) into the four RPC surfaces wire.AgentControlServiceDesc,
// wire.PackServiceDesc, wire.ClientServiceDesc, and wire.NewAdminServiceDesc
// expect, plus the gRPC/HTTP listener lifecycle.
package gatewaysvc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/agentfabric/gateway/internal/admin"
	"github.com/agentfabric/gateway/internal/approval"
	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/binding"
	"github.com/agentfabric/gateway/internal/config"
	"github.com/agentfabric/gateway/internal/httpadmin"
	"github.com/agentfabric/gateway/internal/linking"
	"github.com/agentfabric/gateway/internal/observability"
	"github.com/agentfabric/gateway/internal/packdispatch"
	"github.com/agentfabric/gateway/internal/registry"
	"github.com/agentfabric/gateway/internal/router"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/internal/wire"
)

// Server wires every subsystem and serves both the gRPC frame surfaces and
// the HTTP admin/metrics surface.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	stores  storage.StoreSet
	reg     *registry.Registry
	rt      *router.Router
	appr    *approval.Manager
	dispatch *packdispatch.Dispatch
	bindings *binding.Service
	adminSvc *admin.Service
	linkSvc  *linking.Service
	authn    *auth.Authenticator
	jwt      *auth.JWTService
	metrics  *observability.Metrics

	grpcServer   *grpc.Server
	httpServer   *http.Server
	httpListener net.Listener

	startTime time.Time
	wg        sync.WaitGroup
	stopSweep chan struct{}
}

// New wires every subsystem from cfg and stores. It does not start any
// listener; call Start for that.
func New(cfg *config.Config, stores storage.StoreSet, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	metrics := observability.NewMetrics()

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err == nil {
			secret = hex.EncodeToString(buf)
			logger.Warn("auth.jwt_secret not set; using a random secret, issued tokens will not survive a restart")
		}
	}
	jwt := auth.NewJWTService(secret)
	authn := auth.NewAuthenticator(stores.Principals, stores.Tokens, jwt)

	regCfg := registry.DefaultConfig()
	if cfg.Timeouts.HeartbeatInterval > 0 {
		regCfg.HeartbeatInterval = cfg.Timeouts.HeartbeatInterval
		regCfg.HeartbeatTimeout = 3 * cfg.Timeouts.HeartbeatInterval
	}
	reg := registry.New(regCfg, stores.Bindings, stores.Principals, logger)
	reg.SetMetrics(metrics)

	rt := router.New(reg, stores.Bindings, logger)
	rt.SetMetrics(metrics)

	appr := approval.New(logger)
	appr.SetMetrics(metrics)

	dispatch := packdispatch.New(reg, logger)
	dispatch.SetMetrics(metrics)

	bindingSvc := binding.New(stores.Bindings)
	adminSvc := admin.New(stores.Principals, stores.Tokens, bindingSvc, jwt)
	linkSvc := linking.New(stores.LinkCodes, stores.Principals, stores.Tokens, jwt)

	return &Server{
		cfg:       cfg,
		logger:    logger.With("component", "gatewaysvc"),
		stores:    stores,
		reg:       reg,
		rt:        rt,
		appr:      appr,
		dispatch:  dispatch,
		bindings:  bindingSvc,
		adminSvc:  adminSvc,
		linkSvc:   linkSvc,
		authn:     authn,
		jwt:       jwt,
		metrics:   metrics,
		stopSweep: make(chan struct{}),
	}
}

// approvalTimeout returns the configured tool-approval timeout, falling
// back to approval.DefaultTimeout.
func (s *Server) approvalTimeout() time.Duration {
	if s.cfg.Timeouts.ToolApproval > 0 {
		return s.cfg.Timeouts.ToolApproval
	}
	return approval.DefaultTimeout
}

// loggingUnaryInterceptor logs the method and any handler error.
func loggingUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Error("rpc error", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}

func loggingStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.Debug("stream started", "method", info.FullMethod)
		err := handler(srv, ss)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stream error", "method", info.FullMethod, "error", err)
		}
		logger.Debug("stream ended", "method", info.FullMethod)
		return err
	}
}

// Start builds the gRPC and HTTP servers and blocks serving the gRPC
// listener until it stops or the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()
	s.startApprovalSweep()

	s.grpcServer = grpc.NewServer(
		wire.ServerCodecOption(),
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(s.logger),
			auth.UnaryInterceptor(s.authn, s.logger),
		),
		grpc.ChainStreamInterceptor(
			loggingStreamInterceptor(s.logger),
			auth.StreamInterceptor(s.authn, s.logger),
		),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)
	healthServer.SetServingStatus("gateway", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s.grpcServer)

	s.grpcServer.RegisterService(&wire.AgentControlServiceDesc, (*agentControlServer)(s))
	s.grpcServer.RegisterService(&wire.PackServiceDesc, (*packStreamServer)(s))
	s.grpcServer.RegisterService(&wire.ClientServiceDesc, (*clientServer)(s))
	adminDesc := wire.NewAdminServiceDesc(s.adminSvc)
	s.grpcServer.RegisterService(&adminDesc, s.adminSvc)

	if err := s.startHTTP(); err != nil {
		return fmt.Errorf("gatewaysvc: start http: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.GRPCPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gatewaysvc: listen %s: %w", addr, err)
	}
	s.logger.Info("starting gRPC server", "addr", addr)
	return s.grpcServer.Serve(listener)
}

func (s *Server) startHTTP() error {
	if s.cfg.Server.HTTPPort == 0 {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.HTTPPort)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	adminHandler := httpadmin.New(s.linkSvc, s.startTime, "", s.logger)
	mux.Handle("/", adminHandler)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.httpServer = server
	s.httpListener = listener

	s.logger.Info("starting http server", "addr", addr)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// startApprovalSweep runs SweepTimeouts on a timer, notifying each timed
// out invocation's agent the way ApproveTool's denial path does.
func (s *Server) startApprovalSweep() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, inv := range s.appr.SweepTimeouts(s.approvalTimeout()) {
					s.notifyAgentOfDecision(inv.AgentID, inv.ID, false, false)
					s.emitToolStateEvent(inv)
				}
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// Stop gracefully shuts down both listeners and releases durable storage.
// Connected packs are told the gateway is closing and agents are asked to
// shut down before the streams are drained; if the context expires first,
// remaining streams are cut.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping gatewaysvc")
	close(s.stopSweep)

	for _, pack := range s.reg.ListPacks() {
		pack.Send(&wire.PackFrame{
			Kind:    wire.PackFrameClosing,
			Closing: &wire.ClosingFrame{Reason: "gateway shutting down"},
		})
	}
	for _, agent := range s.reg.ListAgents() {
		agent.Send(&wire.AgentFrame{
			Kind:     wire.AgentFrameShutdown,
			Shutdown: &wire.ShutdownFrame{Reason: "gateway shutting down"},
		})
	}

	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
			<-stopped
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}
	s.wg.Wait()
	s.reg.Close()
	if err := s.stores.Close(); err != nil {
		s.logger.Error("error closing storage stores", "error", err)
	}
	return nil
}
