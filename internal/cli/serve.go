package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lockwatch/internal/audit"
	"github.com/ppiankov/lockwatch/internal/enforce"
	"github.com/ppiankov/lockwatch/internal/logging"
	"github.com/ppiankov/lockwatch/internal/pathrules"
	"github.com/ppiankov/lockwatch/internal/procfs"
	"github.com/ppiankov/lockwatch/internal/registry"
	"github.com/ppiankov/lockwatch/internal/server"
)

// DefaultStatePath is where the registry is pinned across restarts.
const DefaultStatePath = "/var/lib/lockwatch/registry.pin"

var (
	serveRules         string
	serveState         string
	serveAuditLog      string
	serveDenialsOnly   bool
	serveMaxContainers int
	serveMaxProcesses  int
	serveLogLevel      string
	serveLogFormat     string
	serveNoReconcile   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.StringVar(&serveRules, "rules", pathrules.DefaultPath, "Path to rules YAML (missing file means built-in defaults)")
	f.StringVar(&serveState, "state", DefaultStatePath, "Registry pin file (empty disables pinning)")
	f.StringVar(&serveAuditLog, "audit-log", "", "Path to audit log JSONL file")
	f.BoolVar(&serveDenialsOnly, "audit-denials-only", false, "Only audit deny decisions")
	f.IntVar(&serveMaxContainers, "max-containers", registry.DefaultMaxEntries, "Container table capacity")
	f.IntVar(&serveMaxProcesses, "max-processes", registry.DefaultMaxEntries, "Process table capacity")
	f.StringVar(&serveLogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	f.StringVar(&serveLogFormat, "log-format", logging.FormatJSON, "Log format (json|text)")
	f.BoolVar(&serveNoReconcile, "no-reconcile", false, "Skip reconciling restored processes against /proc")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enforcement daemon",
	Long: "Serves the registration protocol and hook checks over gRPC.\n" +
		"The registry is restored from --state at startup and pinned there on\n" +
		"shutdown. The rules file is hot-reloaded when it changes.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func listenNetwork(addr string) string {
	if strings.HasPrefix(addr, "/") {
		return "unix"
	}
	return "tcp"
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(serveLogLevel, serveLogFormat)
	if err != nil {
		return err
	}

	rules, err := pathrules.Load(serveRules)
	if err != nil {
		return err
	}
	logger.Info("rules loaded", "path", serveRules, "hash", rules.Hash())

	reg := registry.New(registry.Capacity{Containers: serveMaxContainers, Processes: serveMaxProcesses})
	if serveState != "" {
		c, p, err := reg.Restore(serveState)
		if err != nil {
			return err
		}
		logger.Info("registry restored", "path", serveState, "containers", c, "processes", p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []enforce.Option{enforce.WithLogger(logger)}
	var wg sync.WaitGroup
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()
	if serveAuditLog != "" {
		auditLog, err := audit.Open(serveAuditLog)
		if err != nil {
			return err
		}
		defer auditLog.Close()
		rec := audit.NewRecorder(auditLog, audit.RecorderConfig{DenialsOnly: serveDenialsOnly}, logger)
		opts = append(opts, enforce.WithObserver(rec))
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(auditCtx)
		}()
	}

	engine := enforce.New(reg, rules, opts...)
	srv := server.New(server.Config{
		Network:   listenNetwork(socketAddr),
		Address:   socketAddr,
		RulesPath: serveRules,
	}, reg, engine, logger)

	proc := procfs.New("")
	if !serveNoReconcile && reg.Processes.Len() > 0 {
		added, removed := srv.Tracker().Reconcile(proc)
		logger.Info("registry reconciled", "added", added, "removed", removed)
	}

	reloader, err := server.NewReloader(srv, serveRules, logger)
	if err != nil {
		logger.Warn("hot-reload disabled", "error", err)
	} else {
		go reloader.Run(ctx)
	}

	lis, err := srv.Listen()
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.GracefulStop()
	}()

	serveErr := srv.ServeOn(lis)

	stopAudit()
	wg.Wait()
	if serveState != "" {
		if err := reg.Pin(serveState, proc); err != nil {
			logger.Error("failed to pin registry", "path", serveState, "error", err)
		} else {
			logger.Info("registry pinned", "path", serveState)
		}
	}
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}
