package mode

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tombee/mcp-gateway/internal/bridge"
	"github.com/tombee/mcp-gateway/internal/catalog"
	"github.com/tombee/mcp-gateway/internal/portpool"
	"github.com/tombee/mcp-gateway/internal/supervisor"
)

// Transports are the auxiliary transports multi-transport mode may
// launch a gateway for (spec.md §4.8.3).
const (
	TransportSSE       = "sse"
	TransportWebsocket = "websocket"
	TransportStreamable = "streamable"
)

var auxiliaryProbePaths = []string{"/", "/message", "/health", "/events", "/ws"}

const auxiliaryMaxRestarts = 3

// MultiTransport extends Unified with, for each ServerSpec and each
// enabled transport, an auxiliary per-server-per-transport gateway
// process sharing individual-mode-like supervision (port from pool,
// warmup, probe, up to 3 restarts).
type MultiTransport struct {
	Unified *Unified

	Pool               *portpool.Pool
	Spawner            supervisor.Spawner
	WorkDirRoot        string
	Logger             *slog.Logger
	EnabledTransports  []string
	SecretsFn          func(serverID string) map[string]string

	mu  sync.Mutex
	aux map[string]*auxProcess // key: serverID+"/"+transport
}

type auxProcess struct {
	proc         supervisor.Process
	port         int
	restartCount int
	healthy      bool
}

func (m *MultiTransport) key(serverID, transport string) string { return serverID + "/" + transport }

func (m *MultiTransport) Reconcile(ctx context.Context, desired map[string]*catalog.ServerSpec) {
	m.Unified.Reconcile(ctx, desired)

	if m.aux == nil {
		m.aux = make(map[string]*auxProcess)
	}

	wanted := map[string]bool{}
	for id, spec := range desired {
		if spec.Kind != catalog.KindStdio {
			continue
		}
		for _, transport := range m.EnabledTransports {
			wanted[m.key(id, transport)] = true
			m.ensureAux(ctx, id, spec, transport, 0)
		}
	}

	m.mu.Lock()
	for key, ap := range m.aux {
		if !wanted[key] {
			m.stopAux(key, ap)
		}
	}
	m.mu.Unlock()
}

func (m *MultiTransport) ensureAux(ctx context.Context, id string, spec *catalog.ServerSpec, transport string, restartCount int) {
	key := m.key(id, transport)

	m.mu.Lock()
	_, exists := m.aux[key]
	m.mu.Unlock()
	if exists {
		return
	}

	port, ok := m.Pool.Allocate(key)
	if !ok {
		m.Logger.Warn("no port available for auxiliary gateway", "server_id", id, "transport", transport)
		return
	}

	var secrets map[string]string
	if m.SecretsFn != nil {
		secrets = m.SecretsFn(id)
	}

	workDir := filepath.Join(m.WorkDirRoot, "_aux", id, transport)
	plan, err := bridge.BuildAuxiliaryGateway(spec, transport, port, workDir, secrets)
	if err != nil {
		m.Logger.Warn("rejecting auxiliary gateway plan", "server_id", id, "transport", transport, "error", err)
		m.Pool.Release(key)
		return
	}

	proc, err := m.Spawner.Spawn(ctx, plan)
	if err != nil {
		m.Logger.Warn("failed to spawn auxiliary gateway", "server_id", id, "transport", transport, "error", err)
		m.Pool.Release(key)
		return
	}

	ap := &auxProcess{proc: proc, port: port, restartCount: restartCount}
	m.mu.Lock()
	m.aux[key] = ap
	m.mu.Unlock()

	go m.watchAux(ctx, key, id, spec, transport, proc)

	time.Sleep(8 * time.Second)
	ap.healthy = probeAuxiliary(transport, port)
}

func (m *MultiTransport) watchAux(ctx context.Context, key, id string, spec *catalog.ServerSpec, transport string, proc supervisor.Process) {
	<-proc.Done()
	result := proc.Result()

	m.mu.Lock()
	ap, ok := m.aux[key]
	stillCurrent := ok && ap.proc == proc
	m.mu.Unlock()
	if !stillCurrent {
		return
	}
	if result.ExitCode == 0 && !result.Signaled {
		return
	}

	m.mu.Lock()
	ap.restartCount++
	restarts := ap.restartCount
	m.mu.Unlock()
	if restarts > auxiliaryMaxRestarts {
		m.Logger.Error("auxiliary gateway exceeded restart budget", "server_id", id, "transport", transport)
		return
	}

	m.mu.Lock()
	delete(m.aux, key)
	m.mu.Unlock()
	m.Pool.Release(key)
	time.Sleep(5 * time.Second)
	m.ensureAux(ctx, id, spec, transport, restarts)
}

func (m *MultiTransport) stopAux(key string, ap *auxProcess) {
	delete(m.aux, key)
	if ap.proc != nil {
		ap.proc.Signal(syscall.SIGTERM)
		<-ap.proc.Done()
	}
	m.Pool.Release(key)
}

// probeAuxiliary implements the multi-transport-specific "alive" check
// of spec.md §4.8.3: any status < 500 on the transport-specific
// endpoints, or for websocket a bare TCP connect.
func probeAuxiliary(transport string, port int) bool {
	if transport == TransportWebsocket {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
		if err == nil {
			conn.Close()
			return true
		}
	}

	client := &http.Client{Timeout: 2 * time.Second}
	for _, path := range auxiliaryProbePaths {
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 500 {
			return true
		}
		if transport == TransportWebsocket && resp.StatusCode == http.StatusBadRequest {
			return true
		}
	}
	return false
}

// Status returns Unified's status unchanged; the health of the auxiliary
// per-transport gateways is not included.
func (m *MultiTransport) Status() []supervisor.StatusEntry {
	return m.Unified.Status()
}

// Start, Stop, and Restart delegate to the shared Unified bridge: the
// auxiliary per-transport gateways this mode adds are driven entirely by
// Reconcile's own convergence loop (ensureAux/watchAux already restart a
// crashed gateway up to auxiliaryMaxRestarts), so there is no separate
// per-id action to take here beyond what Unified already does.
func (m *MultiTransport) Start(ctx context.Context, id string) error   { return m.Unified.Start(ctx, id) }
func (m *MultiTransport) Stop(ctx context.Context, id string) error    { return m.Unified.Stop(ctx, id) }
func (m *MultiTransport) Restart(ctx context.Context, id string) error { return m.Unified.Restart(ctx, id) }

func (m *MultiTransport) Shutdown(ctx context.Context) {
	m.mu.Lock()
	for key, ap := range m.aux {
		m.stopAux(key, ap)
	}
	m.mu.Unlock()
	m.Unified.Shutdown(ctx)
}
