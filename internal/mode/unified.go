package mode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tombee/mcp-gateway/internal/bridge"
	"github.com/tombee/mcp-gateway/internal/catalog"
	"github.com/tombee/mcp-gateway/internal/health"
	"github.com/tombee/mcp-gateway/internal/supervisor"
)

const (
	unifiedStartupBudget  = 30 * time.Second
	unifiedRestartBackoff = 5 * time.Second
	unifiedMaxRestarts    = 3
)

// Unified supervises exactly one multiplexing mcp-bridge child covering
// every stdio ServerSpec, routed under /<serverId> (spec.md §4.8.2).
type Unified struct {
	Spawner     supervisor.Spawner
	Monitor     *health.Monitor
	Port        int
	WorkDirRoot string
	Logger      *slog.Logger
	SecretsFn   func(serverID string) map[string]string

	mu           sync.Mutex
	proc         supervisor.Process
	desired      map[string]*catalog.ServerSpec
	restartCount int
	baseURL      string
	healthy      bool
}

func (u *Unified) workDir() string { return filepath.Join(u.WorkDirRoot, "_unified") }

// Reconcile rewrites the unified config and restarts the single child on
// every call, whether or not the desired set changed, or starts it on
// first call.
func (u *Unified) Reconcile(ctx context.Context, desired map[string]*catalog.ServerSpec) {
	u.mu.Lock()
	u.desired = desired
	running := u.proc != nil
	u.mu.Unlock()

	if running {
		u.stopChild()
	}
	u.startChild(ctx)
}

func (u *Unified) startChild(ctx context.Context) {
	u.mu.Lock()
	desired := u.desired
	u.mu.Unlock()

	secretsByID := make(map[string]map[string]string, len(desired))
	if u.SecretsFn != nil {
		for id := range desired {
			secretsByID[id] = u.SecretsFn(id)
		}
	}

	plan, err := bridge.BuildUnified(desired, u.Port, u.workDir(), secretsByID)
	if err != nil {
		u.Logger.Error("failed to build unified launch plan", "error", err)
		return
	}

	proc, err := u.Spawner.Spawn(ctx, plan)
	if err != nil {
		u.Logger.Error("failed to spawn unified bridge", "error", err)
		return
	}

	u.mu.Lock()
	u.proc = proc
	u.baseURL = fmt.Sprintf("http://127.0.0.1:%d", u.Port)
	u.healthy = false
	u.mu.Unlock()

	go u.watchChild(ctx, proc)

	probeCtx, cancel := context.WithTimeout(ctx, unifiedStartupBudget)
	defer cancel()
	rec := u.Monitor.Probe(probeCtx, health.Target{ServerID: "_unified", BaseURL: u.baseURL, Kind: "stdio"})

	u.mu.Lock()
	u.healthy = rec.Healthy
	u.mu.Unlock()
}

func (u *Unified) watchChild(ctx context.Context, proc supervisor.Process) {
	<-proc.Done()
	result := proc.Result()

	u.mu.Lock()
	current := u.proc
	u.mu.Unlock()
	if current != proc {
		return // superseded by a deliberate restart
	}
	if result.ExitCode == 0 && !result.Signaled {
		return
	}

	u.mu.Lock()
	restarts := u.restartCount
	u.mu.Unlock()
	if restarts >= unifiedMaxRestarts {
		u.Logger.Error("unified bridge exceeded restart budget, not restarting")
		return
	}

	u.mu.Lock()
	u.restartCount++
	u.proc = nil
	u.mu.Unlock()

	time.Sleep(unifiedRestartBackoff)
	u.startChild(ctx)
}

func (u *Unified) stopChild() {
	u.mu.Lock()
	proc := u.proc
	u.proc = nil
	u.mu.Unlock()
	if proc == nil {
		return
	}
	proc.Signal(syscall.SIGTERM)
	select {
	case <-proc.Done():
	case <-time.After(3 * time.Second):
		proc.Signal(syscall.SIGKILL)
		<-proc.Done()
	}
}

// unifiedRouteProbeTimeout bounds each per-id /<id>/docs check so a
// single wedged route cannot stall a status query.
const unifiedRouteProbeTimeout = 3 * time.Second

// probeUnifiedRoute reports whether the unified child answers <id>'s
// route, per spec.md §4.8.2 "per-server health is derived by checking
// /<id>/docs for each configured id".
func probeUnifiedRoute(baseURL, id string) bool {
	client := &http.Client{Timeout: unifiedRouteProbeTimeout}
	resp, err := client.Get(fmt.Sprintf("%s/%s/docs", baseURL, id))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// Status derives per-server health by checking /<id>/docs against the
// single unified child, per spec.md §4.8.2. A server whose sub-route
// fails while the bridge itself is up is reported unhealthy, and vice
// versa would be masked by only trusting the bridge-wide probe.
func (u *Unified) Status() []supervisor.StatusEntry {
	u.mu.Lock()
	desired := u.desired
	baseURL := u.baseURL
	childHealthy := u.healthy
	u.mu.Unlock()

	healthByID := make(map[string]bool, len(desired))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for id := range desired {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			healthy := childHealthy && probeUnifiedRoute(baseURL, id)
			mu.Lock()
			healthByID[id] = healthy
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	entries := make([]supervisor.StatusEntry, 0, len(desired))
	for id, spec := range desired {
		healthy := healthByID[id]
		entry := supervisor.StatusEntry{
			ServerID:   id,
			Configured: true,
			NeedsProxy: spec.NeedsProxy,
			Endpoint:   fmt.Sprintf("%s/%s", baseURL, id),
			Healthy:    healthy,
		}
		if healthy {
			entry.Status = "running"
		} else {
			entry.Status = "failed"
		}
		entries = append(entries, entry)
	}
	return entries
}

// Start starts the shared unified child if it is not already running.
// id is accepted to satisfy mode.Strategy but otherwise ignored: unified
// mode multiplexes every server through one process, so there is no
// finer-grained unit to start.
func (u *Unified) Start(ctx context.Context, id string) error {
	u.mu.Lock()
	running := u.proc != nil
	u.mu.Unlock()
	if running {
		return nil
	}
	u.startChild(ctx)
	return nil
}

// Stop stops the shared unified child. id is accepted to satisfy
// mode.Strategy but otherwise ignored, for the same reason as Start.
func (u *Unified) Stop(ctx context.Context, id string) error {
	u.stopChild()
	return nil
}

// Restart stops and restarts the shared unified child, resetting its
// restart counter, per spec.md §6.3 "restart(id) (reset restart
// counter)". id is accepted to satisfy mode.Strategy but otherwise
// ignored, for the same reason as Start.
func (u *Unified) Restart(ctx context.Context, id string) error {
	u.stopChild()
	u.mu.Lock()
	u.restartCount = 0
	u.mu.Unlock()
	u.startChild(ctx)
	return nil
}

// Shutdown stops the single unified child.
func (u *Unified) Shutdown(ctx context.Context) {
	u.stopChild()
}
