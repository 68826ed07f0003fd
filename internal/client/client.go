// Package client connects container-runtime agents and the CLI to a
// lockwatch daemon.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ppiankov/lockwatch/internal/api"
	"github.com/ppiankov/lockwatch/internal/model"
)

// DefaultTimeout bounds each call when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// FailClosedSource marks decisions made locally because the daemon could not
// be reached.
const FailClosedSource = "failclosed.unreachable"

// Client talks to the lockwatch registration service.
type Client struct {
	conn    *grpc.ClientConn
	rpc     *api.RegistryClient
	timeout time.Duration
}

// Target turns a listen address into a gRPC dial target. Absolute paths are
// unix sockets; anything else is host:port.
func Target(addr string) string {
	if strings.HasPrefix(addr, "/") {
		return "unix://" + addr
	}
	return addr
}

// New creates a client for addr. The connection is established lazily, so
// New succeeds even if the daemon is down.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(Target(addr),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lockwatch daemon: %w", err)
	}
	return &Client{conn: conn, rpc: api.NewRegistryClient(conn), timeout: DefaultTimeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.timeout)
}

func statusErr(op string, resp *api.StatusResponse, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := resp.Status.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AddContainer registers container id with its init process.
func (c *Client) AddContainer(ctx context.Context, id string, pid int32, level model.PolicyLevel) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	resp, err := c.rpc.AddContainer(ctx, &api.AddContainerRequest{ID: id, PID: pid, Level: int32(level)})
	return statusErr("add container "+id, resp, err)
}

// AddProcess registers pid as a member of container id.
func (c *Client) AddProcess(ctx context.Context, id string, pid int32) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	resp, err := c.rpc.AddProcess(ctx, &api.AddProcessRequest{ID: id, PID: pid})
	return statusErr(fmt.Sprintf("add process %d", pid), resp, err)
}

// DeleteContainer removes container id and its processes.
func (c *Client) DeleteContainer(ctx context.Context, id string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	resp, err := c.rpc.DeleteContainer(ctx, &api.DeleteContainerRequest{ID: id})
	return statusErr("delete container "+id, resp, err)
}

// NewProcess reports a fork.
func (c *Client) NewProcess(ctx context.Context, ppid, pid int32, comm string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	resp, err := c.rpc.NewProcess(ctx, &api.NewProcessRequest{ParentPID: ppid, PID: pid, Comm: comm})
	return statusErr(fmt.Sprintf("new process %d", pid), resp, err)
}

// ExitProcess reports a process exit.
func (c *Client) ExitProcess(ctx context.Context, pid int32) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	if _, err := c.rpc.ExitProcess(ctx, &api.ExitProcessRequest{PID: pid}); err != nil {
		return fmt.Errorf("exit process %d: %w", pid, err)
	}
	return nil
}

// Decision is the daemon's answer to a Check.
type Decision struct {
	Decision  model.Decision
	Reason    string
	Level     string
	Container string
	RulesHash string
	// Source is FailClosedSource when the daemon was not reached.
	Source string
}

// Allowed reports whether the operation may proceed.
func (d Decision) Allowed() bool { return d.Decision == model.Allow }

// Check asks the daemon for a hook decision. Fail-closed: any RPC error
// yields a deny decision rather than an error.
func (c *Client) Check(ctx context.Context, req *api.CheckRequest) Decision {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	resp, err := c.rpc.Check(ctx, req)
	if err != nil {
		return Decision{
			Decision: model.Deny,
			Reason:   fmt.Sprintf("lockwatch daemon unreachable: %v", err),
			Source:   FailClosedSource,
		}
	}
	return Decision{
		Decision:  model.Decision(resp.Decision),
		Reason:    resp.Reason,
		Level:     resp.Level,
		Container: resp.Container,
		RulesHash: resp.RulesHash,
	}
}

// ListContainers returns every registered container.
func (c *Client) ListContainers(ctx context.Context) ([]api.ContainerInfo, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	resp, err := c.rpc.ListContainers(ctx, &api.ListRequest{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return resp.Containers, nil
}

// ListProcesses returns every registered process.
func (c *Client) ListProcesses(ctx context.Context) ([]api.ProcessInfo, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	resp, err := c.rpc.ListProcesses(ctx, &api.ListRequest{})
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return resp.Processes, nil
}
