package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/mcp-gateway/internal/api"
	"github.com/tombee/mcp-gateway/internal/catalog"
	"github.com/tombee/mcp-gateway/internal/config"
	"github.com/tombee/mcp-gateway/internal/health"
	"github.com/tombee/mcp-gateway/internal/log"
	"github.com/tombee/mcp-gateway/internal/metrics"
	"github.com/tombee/mcp-gateway/internal/mode"
	"github.com/tombee/mcp-gateway/internal/portpool"
	"github.com/tombee/mcp-gateway/internal/secrets"
	"github.com/tombee/mcp-gateway/internal/supervisor"
	"github.com/tombee/mcp-gateway/internal/tracing"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to gateway.yaml")
		catalogPath = flag.String("catalog", "", "Path to the mcpServers JSON catalog")
		proxyMode   = flag.String("mode", "", "Proxy topology: individual or unified")
		managerPort = flag.Int("manager-port", 0, "Management API port")
		allowRemote = flag.Bool("allow-remote", false, "Bind the management API to all interfaces (SECURITY WARNING)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mcp-gateway %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}
	if *proxyMode != "" {
		cfg.ProxyMode = config.ProxyMode(*proxyMode)
	}
	if *managerPort != 0 {
		cfg.ManagerPort = *managerPort
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := tracing.New(ctx, version)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	secretStore, err := secrets.New(secrets.Config{
		SecretsDir:    cfg.SecretsDir,
		MasterKeyPath: cfg.MasterKeyPath,
		PreferKeyring: cfg.SecretStorageMode == config.SecretStorageKeyring,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize secret store", "error", err)
		os.Exit(1)
	}
	metrics.SetSecretStoreMode(secretStore.Mode)

	pool := portpool.New(cfg.PortRangeStart, cfg.PortRangeEnd)
	monitor := health.New(logger, 256)
	monitor.Start(ctx)
	defer monitor.Stop()

	workDirRoot, err := workDir(cfg)
	if err != nil {
		logger.Error("failed to resolve work directory", "error", err)
		os.Exit(1)
	}

	sup := supervisor.New(supervisor.Options{
		Pool:             pool,
		SecretStore:      secretStore,
		Monitor:          monitor,
		Logger:           logger,
		DefaultProxyType: catalog.ProxyType(cfg.DefaultProxyType),
		WorkDirRoot:      workDirRoot,
	})

	strategy := buildStrategy(cfg, sup, pool, monitor, secretStore, workDirRoot, logger)

	go applyRestartRequests(ctx, monitor, strategy, logger)

	watcher := catalog.NewWatcher(cfg.CatalogPath, sup, func(result *catalog.ParseResult) {
		strategy.Reconcile(ctx, result.Specs)
	}, logger)
	watcher.Start(ctx)
	defer watcher.Stop()

	apiServer := api.NewServer(&api.Server{
		Strategy:    strategy,
		Pool:        pool,
		SecretStore: secretStore,
		Monitor:     monitor,
		AuthSecret:  cfg.ManagementAuthSecret,
		Logger:      logger,
		ReloadFn: func() error {
			result, err := catalog.LoadFile(cfg.CatalogPath)
			if err != nil {
				return err
			}
			strategy.Reconcile(ctx, result.Specs)
			return nil
		},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.ManagerPort)
	if *allowRemote {
		addr = fmt.Sprintf(":%d", cfg.ManagerPort)
		logger.Warn("--allow-remote is enabled; the management API will accept connections from any network address. Ensure ManagementAuthSecret is set.")
	}
	httpServer := &http.Server{Addr: addr, Handler: apiServer}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("management API listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("management API failed", "error", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	strategy.Shutdown(shutdownCtx)
}

func buildStrategy(cfg config.Daemon, sup *supervisor.Supervisor, pool *portpool.Pool, monitor *health.Monitor, secretStore *secrets.Store, workDirRoot string, logger *slog.Logger) mode.Strategy {
	if cfg.ProxyMode != config.ModeUnified {
		return &mode.Individual{Supervisor: sup}
	}

	unified := &mode.Unified{
		Spawner:     supervisor.NewExecSpawner(),
		Monitor:     monitor,
		Port:        cfg.PortRangeStart,
		WorkDirRoot: workDirRoot,
		Logger:      logger,
		SecretsFn: func(serverID string) map[string]string {
			vars, err := secretStore.Load(serverID)
			if err != nil {
				logger.Warn("failed to load secrets", "server_id", serverID, "error", err)
				return nil
			}
			return vars
		},
	}

	if len(cfg.Transports) == 0 {
		return unified
	}

	return &mode.MultiTransport{
		Unified:           unified,
		Pool:              pool,
		Spawner:           supervisor.NewExecSpawner(),
		WorkDirRoot:       workDirRoot,
		Logger:            logger,
		EnabledTransports: cfg.Transports,
		SecretsFn:         unified.SecretsFn,
	}
}

// applyRestartRequests drains the health monitor's restart queue
// (populated when a live server's consecutive-failure or failure-rate
// thresholds trip, spec.md §4.7) and forwards each one to the active
// strategy's Restart. Restart clears the id's restart counter and
// crash-loop damper state before starting it, so these restarts are not
// counted against the damper's attempt cap.
func applyRestartRequests(ctx context.Context, monitor *health.Monitor, strategy mode.Strategy, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-monitor.Restarts():
			if !ok {
				return
			}
			logger.Info("health monitor requested restart", "server_id", req.ServerID, "reason", req.Reason)
			if err := strategy.Restart(ctx, req.ServerID); err != nil {
				logger.Warn("health-monitor restart request failed", "server_id", req.ServerID, "error", err)
			}
		}
	}
}

func workDir(cfg config.Daemon) (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	runDir := dir + "/run"
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return runDir, nil
}
