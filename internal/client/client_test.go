package client

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/lockwatch/internal/api"
	"github.com/ppiankov/lockwatch/internal/enforce"
	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/pathrules"
	"github.com/ppiankov/lockwatch/internal/registration"
	"github.com/ppiankov/lockwatch/internal/registry"
	"github.com/ppiankov/lockwatch/internal/server"
	"github.com/ppiankov/lockwatch/internal/store"
)

func ptr(s string) *string { return &s }

// startTestServer creates a server and returns its address.
func startTestServer(t *testing.T, capacity registry.Capacity) string {
	t.Helper()

	reg := registry.New(capacity)
	srv := server.New(server.Config{Network: "tcp", Address: "127.0.0.1:0"}, reg, enforce.New(reg, pathrules.NewDefault()), nil)
	lis, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)
	t.Cleanup(srv.GracefulStop)
	return lis.Addr().String()
}

func newClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRegistrationFlow(t *testing.T) {
	c := newClient(t, startTestServer(t, registry.DefaultCapacity()))
	ctx := context.Background()

	if err := c.AddContainer(ctx, "app", 100, model.Restricted); err != nil {
		t.Fatalf("AddContainer: %v", err)
	}
	if err := c.AddProcess(ctx, "app", 101); err != nil {
		t.Fatalf("AddProcess: %v", err)
	}
	if err := c.NewProcess(ctx, 101, 102, "sh"); err != nil {
		t.Fatalf("NewProcess: %v", err)
	}

	procs, err := c.ListProcesses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(procs) != 3 {
		t.Errorf("expected 3 processes, got %d", len(procs))
	}

	d := c.Check(ctx, &api.CheckRequest{Hook: "syslog", PID: 102})
	if d.Allowed() || d.Level != "restricted" || d.Container != "app" {
		t.Errorf("unexpected decision %+v", d)
	}

	if err := c.ExitProcess(ctx, 102); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteContainer(ctx, "app"); err != nil {
		t.Fatal(err)
	}
	containers, err := c.ListContainers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(containers) != 0 {
		t.Errorf("containers left: %+v", containers)
	}
}

func TestClientOpenDecision(t *testing.T) {
	c := newClient(t, startTestServer(t, registry.DefaultCapacity()))
	ctx := context.Background()
	if err := c.AddContainer(ctx, "app", 200, model.Baseline); err != nil {
		t.Fatal(err)
	}

	if d := c.Check(ctx, &api.CheckRequest{Hook: "open", PID: 200, Path: ptr("/etc/hosts")}); !d.Allowed() {
		t.Errorf("/etc/hosts: %+v", d)
	}
	if d := c.Check(ctx, &api.CheckRequest{Hook: "open", PID: 200, Path: ptr("/var/run/secrets/kubernetes.io/token")}); d.Allowed() {
		t.Errorf("k8s secret: %+v", d)
	}
}

func TestClientStatusErrors(t *testing.T) {
	c := newClient(t, startTestServer(t, registry.Capacity{Containers: 1, Processes: 1}))
	ctx := context.Background()

	if err := c.AddContainer(ctx, "bad", 1, model.NotFound); !errors.Is(err, registration.ErrInvalid) {
		t.Errorf("sentinel level: %v", err)
	}
	if err := c.AddContainer(ctx, "one", 1, model.Privileged); err != nil {
		t.Fatal(err)
	}
	if err := c.AddProcess(ctx, "one", 2); !errors.Is(err, store.ErrFull) {
		t.Errorf("full table: %v", err)
	}
}

func TestClientFailClosed(t *testing.T) {
	// Connect to a port that has no server.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c := newClient(t, addr)
	d := c.Check(context.Background(), &api.CheckRequest{Hook: "open", PID: 1, Path: ptr("/")})
	if d.Decision != model.Deny {
		t.Errorf("expected deny (fail-closed), got %s", d.Decision)
	}
	if d.Source != FailClosedSource {
		t.Errorf("expected %s source, got %q", FailClosedSource, d.Source)
	}

	if err := c.AddContainer(context.Background(), "x", 1, model.Baseline); err == nil {
		t.Error("registration against a missing daemon should fail")
	}
}

func TestClientUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "lwc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "lockwatch.sock")

	reg := registry.New(registry.DefaultCapacity())
	srv := server.New(server.Config{Network: "unix", Address: sock}, reg, enforce.New(reg, nil), nil)
	lis, err := srv.Listen()
	if err != nil {
		t.Fatal(err)
	}
	go srv.ServeOn(lis)
	defer srv.GracefulStop()

	c := newClient(t, sock)
	if err := c.AddContainer(context.Background(), "u", 5, model.Baseline); err != nil {
		t.Fatalf("AddContainer over unix socket: %v", err)
	}
}

func TestTarget(t *testing.T) {
	if got := Target("/run/lockwatch/lockwatch.sock"); got != "unix:///run/lockwatch/lockwatch.sock" {
		t.Errorf("Target(socket) = %q", got)
	}
	if got := Target("127.0.0.1:7070"); got != "127.0.0.1:7070" {
		t.Errorf("Target(tcp) = %q", got)
	}
}
