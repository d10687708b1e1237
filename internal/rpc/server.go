package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ServerConfig mirrors the teacher's grpc ServerConfig: listen address
// plus the keepalive tuning lnd-style long-lived node-to-node
// connections need.
type ServerConfig struct {
	ListenAddr                   string
	ServerPingTime               time.Duration
	ServerPingTimeout            time.Duration
	ClientPingMinWait            time.Duration
	ClientAllowPingWithoutStream bool
}

func DefaultServerConfig(listenAddr string) ServerConfig {
	return ServerConfig{
		ListenAddr:                   listenAddr,
		ServerPingTime:               5 * time.Minute,
		ServerPingTimeout:            1 * time.Minute,
		ClientPingMinWait:            5 * time.Second,
		ClientAllowPingWithoutStream: true,
	}
}

// Server wraps a *grpc.Server exposing NodeService, the only RPC surface
// a meshnode process listens on.
type Server struct {
	cfg      ServerConfig
	logger   *zap.Logger
	grpcSrv  *grpc.Server
	listener net.Listener

	mu      sync.Mutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewServer(cfg ServerConfig, impl NodeServer, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, logger: logger, quit: make(chan struct{})}
	s.grpcSrv = grpc.NewServer(s.options()...)
	RegisterNodeServer(s.grpcSrv, impl)
	return s
}

func (s *Server) options() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.cfg.ServerPingTime,
			Timeout: s.cfg.ServerPingTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             s.cfg.ClientPingMinWait,
			PermitWithoutStream: s.cfg.ClientAllowPingWithoutStream,
		}),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.shutdownInterceptor),
	}
}

func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if s.logger != nil {
		if err != nil {
			s.logger.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)), zap.Error(err))
		} else {
			s.logger.Debug("rpc completed", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)))
		}
	}
	return resp, err
}

func (s *Server) shutdownInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	select {
	case <-s.quit:
		return nil, status.Error(codes.Unavailable, "node is shutting down")
	default:
		return handler(ctx, req)
	}
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("rpc: server already started")
	}
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.logger != nil {
			s.logger.Info("rpc server listening", zap.String("addr", s.cfg.ListenAddr))
		}
		if err := s.grpcSrv.Serve(lis); err != nil {
			select {
			case <-s.quit:
			default:
				if s.logger != nil {
					s.logger.Error("rpc server exited", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	close(s.quit)
	s.grpcSrv.GracefulStop()
	s.wg.Wait()
	s.started = false
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
