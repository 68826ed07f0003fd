package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/lockwatch/internal/api"
	"github.com/ppiankov/lockwatch/internal/enforce"
	"github.com/ppiankov/lockwatch/internal/pathrules"
	"github.com/ppiankov/lockwatch/internal/registration"
	"github.com/ppiankov/lockwatch/internal/registry"
)

type testEnv struct {
	client *api.RegistryClient
	srv    *Server
	engine *enforce.Engine
	reg    *registry.Registry
}

// testServer spins up an in-process gRPC server on a random port and returns
// a client.
func testServer(t *testing.T, rulesPath string, opts ...enforce.Option) *testEnv {
	t.Helper()

	rules, err := pathrules.Load(rulesPath)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	reg := registry.New(registry.Capacity{Containers: 16, Processes: 256})
	engine := enforce.New(reg, rules, opts...)
	srv := New(Config{Network: "tcp", Address: "127.0.0.1:0", RulesPath: rulesPath}, reg, engine, nil)

	lis, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec{})),
	)
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return &testEnv{client: api.NewRegistryClient(conn), srv: srv, engine: engine, reg: reg}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func ptr(s string) *string { return &s }

func (e *testEnv) addContainer(t *testing.T, id string, pid, level int32) {
	t.Helper()
	resp, err := e.client.AddContainer(context.Background(), &api.AddContainerRequest{ID: id, PID: pid, Level: level})
	if err != nil {
		t.Fatalf("AddContainer: %v", err)
	}
	if resp.Status != registration.OK {
		t.Fatalf("AddContainer status = %v", resp.Status)
	}
}

func (e *testEnv) check(t *testing.T, req *api.CheckRequest) *api.CheckResponse {
	t.Helper()
	resp, err := e.client.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp
}

func TestRegisterAndCheck(t *testing.T) {
	env := testServer(t, "")
	env.addContainer(t, "web", 100, 0)

	resp := env.check(t, &api.CheckRequest{Hook: "open", PID: 100, Path: ptr("/root/.ssh/id_rsa")})
	if resp.Decision != "deny" || resp.Level != "restricted" || resp.Container != "web" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.RulesHash != env.engine.Rules().Hash() {
		t.Errorf("rules hash = %q", resp.RulesHash)
	}

	resp = env.check(t, &api.CheckRequest{Hook: "syslog", PID: 555})
	if resp.Decision != "allow" || resp.Level != "not-found" || resp.Container != "" {
		t.Errorf("untracked: %+v", resp)
	}
}

func TestAddContainerValidation(t *testing.T) {
	env := testServer(t, "")
	ctx := context.Background()

	resp, err := env.client.AddContainer(ctx, &api.AddContainerRequest{ID: "", PID: 1, Level: 0})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != registration.Invalid {
		t.Errorf("empty id: %v", resp.Status)
	}

	resp, err = env.client.AddContainer(ctx, &api.AddContainerRequest{ID: "ok", PID: 1, Level: 9})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != registration.Invalid {
		t.Errorf("bad level: %v", resp.Status)
	}
}

func TestNewProcessAndExit(t *testing.T) {
	env := testServer(t, "")
	ctx := context.Background()
	env.addContainer(t, "db", 10, 1)

	resp, err := env.client.NewProcess(ctx, &api.NewProcessRequest{ParentPID: 10, PID: 11, Comm: "postgres"})
	if err != nil || resp.Status != registration.OK {
		t.Fatalf("NewProcess: %v, %v", resp, err)
	}
	if got := env.check(t, &api.CheckRequest{Hook: "syslog", PID: 11}); got.Level != "baseline" {
		t.Errorf("child level = %q", got.Level)
	}

	if _, err := env.client.ExitProcess(ctx, &api.ExitProcessRequest{PID: 11}); err != nil {
		t.Fatal(err)
	}
	if got := env.check(t, &api.CheckRequest{Hook: "syslog", PID: 11}); got.Level != "not-found" {
		t.Errorf("exited level = %q", got.Level)
	}
}

func TestNewProcessInconsistentParent(t *testing.T) {
	env := testServer(t, "")
	ctx := context.Background()
	resp, err := env.client.AddProcess(ctx, &api.AddProcessRequest{ID: "ghost", PID: 20})
	if err != nil || resp.Status != registration.OK {
		t.Fatalf("AddProcess: %v, %v", resp, err)
	}
	resp, err = env.client.NewProcess(ctx, &api.NewProcessRequest{ParentPID: 20, PID: 21})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != registration.Inconsistent {
		t.Errorf("status = %v, want inconsistent", resp.Status)
	}
}

func TestDeleteContainerTwice(t *testing.T) {
	env := testServer(t, "")
	ctx := context.Background()
	env.addContainer(t, "tmp", 30, 2)
	_, _ = env.client.AddProcess(ctx, &api.AddProcessRequest{ID: "tmp", PID: 31})

	for i := 0; i < 2; i++ {
		resp, err := env.client.DeleteContainer(ctx, &api.DeleteContainerRequest{ID: "tmp"})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != registration.OK {
			t.Errorf("delete #%d: %v", i+1, resp.Status)
		}
	}

	procs, err := env.client.ListProcesses(ctx, &api.ListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(procs.Processes) != 0 {
		t.Errorf("processes left: %+v", procs.Processes)
	}
}

func TestListings(t *testing.T) {
	env := testServer(t, "")
	ctx := context.Background()
	env.addContainer(t, "a", 1, 0)
	env.addContainer(t, "b", 2, 2)
	_, _ = env.client.AddProcess(ctx, &api.AddProcessRequest{ID: "a", PID: 3})

	cs, err := env.client.ListContainers(ctx, &api.ListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	slices.SortFunc(cs.Containers, func(x, y api.ContainerInfo) int { return strings.Compare(x.ID, y.ID) })
	wantC := []api.ContainerInfo{{ID: "a", Level: "restricted"}, {ID: "b", Level: "privileged"}}
	if diff := cmp.Diff(wantC, cs.Containers); diff != "" {
		t.Errorf("containers mismatch (-want +got):\n%s", diff)
	}

	ps, err := env.client.ListProcesses(ctx, &api.ListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	slices.SortFunc(ps.Processes, func(x, y api.ProcessInfo) int { return int(x.PID - y.PID) })
	wantP := []api.ProcessInfo{
		{PID: 1, ContainerID: "a", Level: "restricted"},
		{PID: 2, ContainerID: "b", Level: "privileged"},
		{PID: 3, ContainerID: "a", Level: "restricted"},
	}
	if diff := cmp.Diff(wantP, ps.Processes); diff != "" {
		t.Errorf("processes mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckMount(t *testing.T) {
	env := testServer(t, "")
	env.addContainer(t, "m", 40, 1)

	tests := []struct {
		name     string
		req      *api.CheckRequest
		decision string
	}{
		{"bind from runtime storage", &api.CheckRequest{Hook: "mount", PID: 40, Source: ptr("/var/lib/containers/storage/x"), FSType: ptr("bind")}, "allow"},
		{"bind from root home", &api.CheckRequest{Hook: "mount", PID: 40, Source: ptr("/root"), FSType: ptr("bind")}, "deny"},
		{"bind unreadable source", &api.CheckRequest{Hook: "mount", PID: 40, FSType: ptr("bind")}, "deny"},
		{"overlay", &api.CheckRequest{Hook: "mount", PID: 40, Source: ptr("/root"), FSType: ptr("overlay")}, "allow"},
		{"unreadable type", &api.CheckRequest{Hook: "mount", PID: 40, Source: ptr("/root")}, "allow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.check(t, tt.req); got.Decision != tt.decision {
				t.Errorf("decision = %s (%s), want %s", got.Decision, got.Reason, tt.decision)
			}
		})
	}
}

func TestCheckUnknownHook(t *testing.T) {
	env := testServer(t, "")
	_, err := env.client.Check(context.Background(), &api.CheckRequest{Hook: "ptrace", PID: 1})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestCheckReachesObserver(t *testing.T) {
	var mu sync.Mutex
	var events []enforce.Event
	obs := enforce.ObserverFunc(func(ev enforce.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	env := testServer(t, "", enforce.WithObserver(obs))
	env.addContainer(t, "o", 50, 0)

	env.check(t, &api.CheckRequest{Hook: "syslog", PID: 50})
	env.check(t, &api.CheckRequest{Hook: "syslog", PID: 51})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].PID != 50 {
		t.Errorf("events = %+v", events)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	env := testServer(t, "")
	env.addContainer(t, "busy", 1000, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := int32(0); i < 100; i++ {
		wg.Add(1)
		go func(pid int32) {
			defer wg.Done()
			resp, err := env.client.NewProcess(context.Background(), &api.NewProcessRequest{ParentPID: 1000, PID: pid})
			if err != nil {
				errs <- err
				return
			}
			if resp.Status != registration.OK {
				errs <- resp.Status.Err()
			}
		}(2000 + i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent registration error: %v", err)
	}
	if env.reg.Processes.Len() != 101 {
		t.Errorf("Len = %d, want 101", env.reg.Processes.Len())
	}
}

const restrictiveRules = `
allowed_paths_access_restricted:
  - /srv
denied_paths_access_restricted: []
`

func TestReloadRules(t *testing.T) {
	rulesPath := writeTempFile(t, "rules.yaml", "allowed_paths_access_restricted: [/opt]\n")
	env := testServer(t, rulesPath)
	env.addContainer(t, "r", 60, 0)
	before := env.engine.Rules().Hash()

	if got := env.check(t, &api.CheckRequest{Hook: "open", PID: 60, Path: ptr("/srv/data")}); got.Decision != "deny" {
		t.Fatalf("before reload: %s", got.Decision)
	}

	if err := os.WriteFile(rulesPath, []byte(restrictiveRules), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := env.srv.ReloadRules(); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	got := env.check(t, &api.CheckRequest{Hook: "open", PID: 60, Path: ptr("/srv/data")})
	if got.Decision != "allow" {
		t.Errorf("after reload: %s (%s)", got.Decision, got.Reason)
	}
	if got.RulesHash == before {
		t.Error("rules hash should change after reload")
	}
}

func TestReloadRulesKeepsCurrentOnError(t *testing.T) {
	rulesPath := writeTempFile(t, "rules.yaml", "allowed_paths_access_restricted: [/opt]\n")
	env := testServer(t, rulesPath)
	before := env.engine.Rules()

	if err := os.WriteFile(rulesPath, []byte("allowed_paths_access_restricted: {"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := env.srv.ReloadRules(); err == nil {
		t.Fatal("expected error for malformed rules")
	}
	if env.engine.Rules() != before {
		t.Error("engine rules replaced despite reload error")
	}
}

func TestReloaderPicksUpWrites(t *testing.T) {
	rulesPath := writeTempFile(t, "rules.yaml", "allowed_paths_access_restricted: [/opt]\n")
	env := testServer(t, rulesPath)
	before := env.engine.Rules().Hash()

	r, err := NewReloader(env.srv, rulesPath, nil)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Unrelated files in the same directory are ignored.
	os.WriteFile(filepath.Join(filepath.Dir(rulesPath), "other.yaml"), []byte("x"), 0o644)
	os.WriteFile(rulesPath, []byte(restrictiveRules), 0o644)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if env.engine.Rules().Hash() != before {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("rules were not reloaded after write")
}

func TestUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "lw")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "run", "lockwatch.sock")

	// A stale socket file from a previous run is replaced.
	os.MkdirAll(filepath.Dir(sock), 0o750)
	os.WriteFile(sock, nil, 0o600)

	reg := registry.New(registry.Capacity{Containers: 1, Processes: 1})
	srv := New(Config{Network: "unix", Address: sock}, reg, enforce.New(reg, nil), nil)
	lis, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.ServeOn(lis)
	defer srv.GracefulStop()

	info, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSocket == 0 || info.Mode().Perm() != 0o660 {
		t.Errorf("socket mode = %v", info.Mode())
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}
