// Package server exposes the registration protocol, the lifecycle tracker
// and hook evaluation over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/lockwatch/internal/api"
	"github.com/ppiankov/lockwatch/internal/enforce"
	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/pathrules"
	"github.com/ppiankov/lockwatch/internal/policy"
	"github.com/ppiankov/lockwatch/internal/registration"
	"github.com/ppiankov/lockwatch/internal/registry"
	"github.com/ppiankov/lockwatch/internal/tracker"
)

// DefaultSocket is the unix socket the daemon listens on by default.
const DefaultSocket = "/run/lockwatch/lockwatch.sock"

// Config holds gRPC server configuration.
type Config struct {
	// Network is "unix" or "tcp".
	Network   string
	Address   string
	RulesPath string
}

// Server implements api.RegistryServer on top of a registry and engine.
type Server struct {
	reg      *registry.Registry
	protocol *registration.Protocol
	tracker  *tracker.Tracker
	engine   *enforce.Engine
	cfg      Config
	logger   *slog.Logger

	grpcServer *grpc.Server
}

var _ api.RegistryServer = (*Server)(nil)

// New creates a server. The engine must be built on reg. A nil logger
// discards output.
func New(cfg Config, reg *registry.Registry, engine *enforce.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Network == "" {
		cfg.Network = "unix"
	}
	if cfg.Address == "" && cfg.Network == "unix" {
		cfg.Address = DefaultSocket
	}

	s := &Server{
		reg:      reg,
		protocol: registration.New(reg, logger),
		tracker:  tracker.New(reg, logger),
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
	}
	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(api.Codec{}),
		grpc.UnaryInterceptor(s.logCalls),
	)
	api.RegisterRegistryServer(s.grpcServer, s)
	return s
}

// Listen opens the configured listener. A stale unix socket is replaced.
func (s *Server) Listen() (net.Listener, error) {
	if s.cfg.Network == "unix" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Address), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create socket directory: %w", err)
		}
		if err := os.Remove(s.cfg.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	lis, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	if s.cfg.Network == "unix" {
		if err := os.Chmod(s.cfg.Address, 0o660); err != nil {
			lis.Close()
			return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
		}
	}
	return lis, nil
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := s.Listen()
	if err != nil {
		return err
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener. Blocks until stopped.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("serving", "network", lis.Addr().Network(), "address", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// GracefulStop waits for in-flight calls and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Tracker returns the lifecycle tracker the server feeds.
func (s *Server) Tracker() *tracker.Tracker { return s.tracker }

// ReloadRules reloads the rules file and swaps it into the engine. On error
// the engine keeps its current rules.
func (s *Server) ReloadRules() error {
	rules, err := pathrules.Load(s.cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}
	s.engine.SetRules(rules)
	return nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("rpc failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	} else {
		s.logger.Debug("rpc", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

// AddContainer implements the AddContainer RPC.
func (s *Server) AddContainer(ctx context.Context, req *api.AddContainerRequest) (*api.StatusResponse, error) {
	id, err := model.NewContainerID(req.ID)
	if err != nil {
		return &api.StatusResponse{Status: registration.StatusOf(err)}, nil
	}
	var ret registration.Status
	s.protocol.AddContainer(&ret, id, req.PID, req.Level)
	return &api.StatusResponse{Status: ret}, nil
}

// AddProcess implements the AddProcess RPC.
func (s *Server) AddProcess(ctx context.Context, req *api.AddProcessRequest) (*api.StatusResponse, error) {
	id, err := model.NewContainerID(req.ID)
	if err != nil {
		return &api.StatusResponse{Status: registration.StatusOf(err)}, nil
	}
	var ret registration.Status
	s.protocol.AddProcess(&ret, id, req.PID)
	return &api.StatusResponse{Status: ret}, nil
}

// DeleteContainer implements the DeleteContainer RPC.
func (s *Server) DeleteContainer(ctx context.Context, req *api.DeleteContainerRequest) (*api.StatusResponse, error) {
	id, err := model.NewContainerID(req.ID)
	if err != nil {
		return &api.StatusResponse{Status: registration.StatusOf(err)}, nil
	}
	var ret registration.Status
	s.protocol.DeleteContainer(&ret, id)
	return &api.StatusResponse{Status: ret}, nil
}

// NewProcess implements the NewProcess RPC.
func (s *Server) NewProcess(ctx context.Context, req *api.NewProcessRequest) (*api.StatusResponse, error) {
	err := s.tracker.OnNewProcess(req.ParentPID, req.PID, req.Comm)
	return &api.StatusResponse{Status: registration.StatusOf(err)}, nil
}

// ExitProcess implements the ExitProcess RPC.
func (s *Server) ExitProcess(ctx context.Context, req *api.ExitProcessRequest) (*api.Empty, error) {
	s.tracker.OnProcessExit(req.PID)
	return &api.Empty{}, nil
}

func argOf(p *string) enforce.Arg {
	if p == nil {
		return enforce.None
	}
	return enforce.Some(*p)
}

// Check implements the Check RPC. Decisions on tracked processes reach the
// engine's observer like any hook call.
func (s *Server) Check(ctx context.Context, req *api.CheckRequest) (*api.CheckResponse, error) {
	hook, ok := enforce.ParseHook(req.Hook)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown hook %q", req.Hook)
	}
	res := s.engine.Decide(enforce.Request{
		Hook:   hook,
		PID:    req.PID,
		Source: argOf(req.Source),
		FSType: argOf(req.FSType),
		Path:   argOf(req.Path),
	})
	resp := &api.CheckResponse{
		Decision:  string(res.Decision),
		Reason:    res.Reason,
		Level:     res.Level.String(),
		RulesHash: res.RulesHash,
	}
	if !res.Container.IsZero() {
		resp.Container = res.Container.String()
	}
	return resp, nil
}

// ListContainers implements the ListContainers RPC.
func (s *Server) ListContainers(ctx context.Context, _ *api.ListRequest) (*api.ListContainersResponse, error) {
	entries := s.reg.ListContainers()
	out := make([]api.ContainerInfo, len(entries))
	for i, e := range entries {
		out[i] = api.ContainerInfo{ID: e.ID.String(), Level: e.Level.String()}
	}
	return &api.ListContainersResponse{Containers: out}, nil
}

// ListProcesses implements the ListProcesses RPC.
func (s *Server) ListProcesses(ctx context.Context, _ *api.ListRequest) (*api.ListProcessesResponse, error) {
	entries := s.reg.ListProcesses()
	out := make([]api.ProcessInfo, len(entries))
	for i, e := range entries {
		out[i] = api.ProcessInfo{
			PID:         e.PID,
			ContainerID: e.ContainerID.String(),
			Level:       policy.Resolve(s.reg, e.PID).String(),
		}
	}
	return &api.ListProcessesResponse{Processes: out}, nil
}
