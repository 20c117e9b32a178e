package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/tombee/mcp-gateway/internal/bridge"
	"github.com/tombee/mcp-gateway/internal/catalog"
	"github.com/tombee/mcp-gateway/internal/classifier"
	"github.com/tombee/mcp-gateway/internal/health"
	"github.com/tombee/mcp-gateway/internal/portpool"
	"github.com/tombee/mcp-gateway/internal/secrets"
	secretsmask "github.com/tombee/mcp-gateway/pkg/secrets"
)

// Supervisor is the single writer of the process registry, fallback
// state, and (indirectly, via pool) port allocations, per spec.md §4.5
// and §5.
type Supervisor struct {
	mu sync.Mutex

	registry map[string]*ProxyProcess
	fallback map[string]*FallbackState
	desired  map[string]*catalog.ServerSpec
	trackers map[string]*classifier.Tracker

	pool        *portpool.Pool
	secretStore *secrets.Store
	monitor     *health.Monitor
	spawner     Spawner
	logger      *slog.Logger

	defaultProxyType catalog.ProxyType
	workDirRoot       string

	now func() time.Time
}

// Options configures a new Supervisor.
type Options struct {
	Pool              *portpool.Pool
	SecretStore       *secrets.Store
	Monitor           *health.Monitor
	Spawner           Spawner
	Logger            *slog.Logger
	DefaultProxyType  catalog.ProxyType
	WorkDirRoot       string
}

// New creates a Supervisor. Spawner defaults to the os/exec-backed
// implementation if nil.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Spawner == nil {
		opts.Spawner = NewExecSpawner()
	}
	if opts.DefaultProxyType == "" {
		opts.DefaultProxyType = catalog.ProxyMCPO
	}
	return &Supervisor{
		registry:          make(map[string]*ProxyProcess),
		fallback:          make(map[string]*FallbackState),
		desired:           make(map[string]*catalog.ServerSpec),
		trackers:          make(map[string]*classifier.Tracker),
		pool:              opts.Pool,
		secretStore:       opts.SecretStore,
		monitor:           opts.Monitor,
		spawner:           opts.Spawner,
		logger:            opts.Logger,
		defaultProxyType:  opts.DefaultProxyType,
		workDirRoot:       opts.WorkDirRoot,
		now:               time.Now,
	}
}

// otherProxyType returns the one proxy type not passed in.
func otherProxyType(t catalog.ProxyType) catalog.ProxyType {
	if t == catalog.ProxyMCPO {
		return catalog.ProxyMCPBridge
	}
	return catalog.ProxyMCPO
}

// Reconcile applies a new desired set: stops removed servers (staggered),
// then starts or restarts the rest (spec.md §4.5.2). It is the sole
// entry point that mutates desired state; callers (the catalog watcher)
// invoke it from their own goroutine, but all registry mutation happens
// here, serialized by mu.
func (s *Supervisor) Reconcile(ctx context.Context, desired map[string]*catalog.ServerSpec) {
	removals, restarts, starts := s.diff(desired)

	s.mu.Lock()
	s.desired = desired
	s.mu.Unlock()

	for i, id := range removals {
		s.stop(ctx, id)
		if i < len(removals)-1 {
			time.Sleep(stopSpacing)
		}
	}
	if len(removals) > massRemovalThreshold {
		time.Sleep(massRemovalExtraWait)
	}

	for _, id := range restarts {
		s.stop(ctx, id)
		s.start(ctx, desired[id])
	}
	for _, id := range starts {
		s.start(ctx, desired[id])
	}
}

// Start starts a single configured-but-not-live server by id, per
// spec.md §6.3 "start(id)". It is a no-op if the server is already live.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	spec, configured := s.desired[id]
	_, live := s.registry[id]
	s.mu.Unlock()
	if !configured {
		return fmt.Errorf("server %q is not in the catalog", id)
	}
	if live {
		return nil
	}
	s.start(ctx, spec)
	return nil
}

// Stop stops a single live server by id, per spec.md §6.3 "stop(id)". It
// is a no-op if the server is not currently live.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	_, live := s.registry[id]
	s.mu.Unlock()
	if !live {
		return nil
	}
	s.stop(ctx, id)
	return nil
}

// Restart stops and restarts id, discarding its crash-loop damper state
// so the fresh ProxyProcess starts with RestartCount and fallback
// attempts at zero, per spec.md §6.3 "restart(id) (reset restart
// counter)".
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	s.mu.Lock()
	spec, configured := s.desired[id]
	_, live := s.registry[id]
	s.mu.Unlock()
	if !configured {
		return fmt.Errorf("server %q is not in the catalog", id)
	}
	if live {
		s.stop(ctx, id)
	}
	s.mu.Lock()
	delete(s.fallback, id)
	s.mu.Unlock()
	s.start(ctx, spec)
	return nil
}

// diff computes removals (live, not desired), restarts (live with a spec
// that changed), and starts (desired, not live), each sorted for
// deterministic ordering.
func (s *Supervisor) diff(desired map[string]*catalog.ServerSpec) (removals, restarts, starts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, live := range s.registry {
		newSpec, ok := desired[id]
		if !ok {
			removals = append(removals, id)
			continue
		}
		if !reflect.DeepEqual(live.spec, newSpec) {
			restarts = append(restarts, id)
		}
	}
	for id := range desired {
		if _, live := s.registry[id]; !live {
			starts = append(starts, id)
		}
	}
	sort.Strings(removals)
	sort.Strings(restarts)
	sort.Strings(starts)
	return removals, restarts, starts
}

// LiveCount implements catalog.LiveCounter for the mass-shutdown guard.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// resolveSecrets loads and decrypts serverID's secrets, overlaying onto
// the spec's own env map per spec.md §4.5.2 step 2 ("overlay decrypted
// secrets onto env").
func (s *Supervisor) resolveSecrets(serverID string) map[string]string {
	if s.secretStore == nil {
		return nil
	}
	vars, err := s.secretStore.Load(serverID)
	if err != nil {
		s.logger.Warn("failed to load secrets, proceeding without them", "server_id", serverID, "error", err)
		return nil
	}
	return vars
}

// start implements spec.md §4.5.3.
func (s *Supervisor) start(ctx context.Context, spec *catalog.ServerSpec) {
	id := spec.ID

	s.mu.Lock()
	fb, ok := s.fallback[id]
	if !ok {
		fb = newFallbackState()
		s.fallback[id] = fb
	}
	if fb.TotalAttempts >= maxRestartsPerCrashWindow {
		if s.now().Sub(fb.LastAttemptAt) < crashWindow {
			s.mu.Unlock()
			s.markFailed(id, "crash-loop damper tripped")
			return
		}
		fb.TotalAttempts = 0
		fb.AttemptedTypes = make(map[catalog.ProxyType]bool)
	}
	s.mu.Unlock()

	port, ok := s.pool.Allocate(id)
	if !ok {
		s.markFailed(id, "port pool exhausted")
		return
	}

	tryOrder := s.buildTryOrder(spec, fb)
	secretsForSpec := s.resolveSecrets(id)

	fallbackUsed := false
	for i, proxyType := range tryOrder {
		s.mu.Lock()
		fb.AttemptedTypes[proxyType] = true
		fb.TotalAttempts++
		fb.LastAttemptAt = s.now()
		s.mu.Unlock()

		workDir := filepath.Join(s.workDirRoot, id)
		plan, err := bridge.Build(spec, proxyType, port, workDir, secretsForSpec)
		if err != nil {
			s.logger.Warn("rejecting unsafe launch plan", "server_id", id, "proxy_type", proxyType, "error", err)
			continue
		}

		s.logger.Debug("launch plan built", "server_id", id, "proxy_type", proxyType,
			"argv", plan.Argv, "env", secretsmask.MaskEnvMap(plan.Env))

		proc, err := s.spawner.Spawn(ctx, plan)
		if err != nil {
			s.logger.Warn("spawn failed", "server_id", id, "proxy_type", proxyType, "error", err)
			continue
		}

		pp := &ProxyProcess{
			ServerID:      id,
			Port:          port,
			ProxyTypeUsed: proxyType,
			PID:           proc.PID(),
			StartedAt:     s.now(),
			State:         StateStarting,
			FallbackUsed:  fallbackUsed,
			WorkDir:       workDir,
			BaseURL:       fmt.Sprintf("http://127.0.0.1:%d", port),
			proc:          proc,
			spec:          spec,
		}
		tracker := classifier.NewTracker()

		s.mu.Lock()
		s.registry[id] = pp
		s.trackers[id] = tracker
		s.mu.Unlock()

		go s.consumeLines(id, proc, tracker)
		go s.awaitExit(ctx, id, proc)

		warmup := warmupStdio
		if spec.Kind == catalog.KindSSE || spec.Kind == catalog.KindStreamableHTTP {
			warmup = warmupRemote
		}
		time.Sleep(warmup)

		rec := s.monitor.Probe(ctx, health.Target{ServerID: id, BaseURL: pp.BaseURL, Kind: string(spec.Kind)})

		if rec.Healthy {
			s.mu.Lock()
			pp.State = StateHealthy
			tracker.Clear()
			pp.LastError = nil
			s.mu.Unlock()
			s.monitor.Register(health.Target{ServerID: id, BaseURL: pp.BaseURL, Kind: string(spec.Kind)})
			return
		}

		if rec.AuthError {
			s.mu.Lock()
			pp.State = StateAuthRequired
			s.mu.Unlock()
			tracker.Observe("401 unauthorized from health probe", s.now())
			s.monitor.Register(health.Target{ServerID: id, BaseURL: pp.BaseURL, Kind: string(spec.Kind)})
			return
		}

		lastTry := i == len(tryOrder)-1 || spec.ProxyTypeHint != ""
		if lastTry {
			s.mu.Lock()
			pp.State = StateUnhealthy
			s.mu.Unlock()
			s.monitor.Register(health.Target{ServerID: id, BaseURL: pp.BaseURL, Kind: string(spec.Kind)})
			return
		}

		// Not the last try: stop this attempt and fall through to the
		// next proxy type with a freshly allocated port.
		s.stopProcess(id, pp)
		s.pool.Release(id)
		newPort, ok := s.pool.Allocate(id)
		if !ok {
			s.markFailed(id, "port pool exhausted during fallback")
			return
		}
		port = newPort
		fallbackUsed = true
	}

	s.pool.Release(id)
	s.markFailed(id, "exhausted proxy type fallback options")
}

func (s *Supervisor) buildTryOrder(spec *catalog.ServerSpec, fb *FallbackState) []catalog.ProxyType {
	if spec.ProxyTypeHint != "" {
		return []catalog.ProxyType{spec.ProxyTypeHint}
	}
	candidates := []catalog.ProxyType{s.defaultProxyType, otherProxyType(s.defaultProxyType)}
	var order []catalog.ProxyType
	for _, c := range candidates {
		if !fb.AttemptedTypes[c] {
			order = append(order, c)
		}
	}
	if len(order) == 0 {
		order = candidates
	}
	return order
}

func (s *Supervisor) markFailed(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pp, ok := s.registry[id]
	if !ok {
		pp = &ProxyProcess{ServerID: id}
		s.registry[id] = pp
	}
	pp.State = StateFailed
	s.logger.Warn("server marked failed", "server_id", id, "reason", reason)
}

// consumeLines feeds every line of a child's combined output through the
// error classifier.
func (s *Supervisor) consumeLines(id string, proc Process, tracker *classifier.Tracker) {
	for line := range proc.Lines() {
		rec := tracker.Observe(line, s.now())
		s.mu.Lock()
		if pp, ok := s.registry[id]; ok {
			pp.LastError = rec
		}
		s.mu.Unlock()
	}
}

// awaitExit implements the child exit handler of spec.md §4.5.4.
func (s *Supervisor) awaitExit(ctx context.Context, id string, proc Process) {
	<-proc.Done()
	result := proc.Result()

	s.mu.Lock()
	pp, ok := s.registry[id]
	superseded := !ok || pp.proc != proc
	stopRequested := ok && pp.stopRequested
	s.mu.Unlock()
	if superseded || stopRequested {
		return
	}

	if isExpectedExit(result) {
		return
	}

	family := exitCodeFamily(result)
	s.mu.Lock()
	if pp.LastError == nil || pp.LastError.Family == classifier.FamilyHealth || pp.LastError.Family == classifier.FamilyRuntime {
		pp.LastError = &classifier.ErrorRecord{Message: fmt.Sprintf("child exited with code %d", result.ExitCode), Family: family, At: s.now()}
	}
	restartCount := pp.RestartCount
	s.mu.Unlock()

	fb := s.fallbackFor(id)
	damperOK := fb.TotalAttempts < maxRestartsPerCrashWindow || s.now().Sub(fb.LastAttemptAt) >= crashWindow

	if restartCount < maxChildExitRestarts && damperOK {
		s.mu.Lock()
		pp.RestartCount++
		spec := pp.spec
		s.mu.Unlock()
		time.Sleep(childExitBackoff)
		s.start(ctx, spec)
		return
	}

	s.markFailed(id, "exceeded child-exit restart budget")
}

func (s *Supervisor) fallbackFor(id string) *FallbackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.fallback[id]
	if !ok {
		fb = newFallbackState()
		s.fallback[id] = fb
	}
	return fb
}

// isExpectedExit reports whether a child's termination looks like a
// clean shutdown rather than a crash (spec.md §4.5.4). A SIGKILL/SIGTERM
// delivered by our own stop procedure is additionally gated by
// ProxyProcess.stopRequested, set before either signal is sent, so an
// externally OOM-killed child (also SIGKILL) is still treated as a
// crash when we never asked for the stop.
func isExpectedExit(result ExitResult) bool {
	if result.ExitCode == 0 && !result.Signaled {
		return true
	}
	return result.Signaled && (result.Signal == syscall.SIGTERM || result.Signal == syscall.SIGINT)
}

// exitCodeFamily classifies a child's exit per spec.md §4.5.4.
func exitCodeFamily(result ExitResult) classifier.Family {
	switch {
	case result.Signaled && result.Signal == syscall.SIGKILL:
		return classifier.FamilyResource
	case result.ExitCode == 137:
		return classifier.FamilyResource
	case result.ExitCode == 126:
		return classifier.FamilyConfig
	case result.ExitCode == 127:
		return classifier.FamilyDependency
	default:
		return classifier.FamilyRuntime
	}
}

// stop implements spec.md §4.5.5 for a live server id.
func (s *Supervisor) stop(ctx context.Context, id string) {
	s.mu.Lock()
	pp, ok := s.registry[id]
	if ok {
		pp.State = StateStopping
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.stopProcess(id, pp)

	s.mu.Lock()
	delete(s.registry, id)
	delete(s.trackers, id)
	s.mu.Unlock()

	s.pool.Release(id)
	s.monitor.Unregister(id)

	if pp.WorkDir != "" {
		os.RemoveAll(pp.WorkDir)
	}
}

// stopProcess sends SIGTERM, waits gracefulShutdownTimeout, then SIGKILL
// if the child is still alive. It does not touch the registry.
func (s *Supervisor) stopProcess(id string, pp *ProxyProcess) {
	if pp.proc == nil {
		return
	}
	s.mu.Lock()
	pp.stopRequested = true
	s.mu.Unlock()

	pp.proc.Signal(syscall.SIGTERM)

	select {
	case <-pp.proc.Done():
	case <-time.After(gracefulShutdownTimeout):
		pp.proc.Signal(syscall.SIGKILL)
		<-pp.proc.Done()
	}
}

// Status returns the management API's status view (spec.md §6.3).
func (s *Supervisor) Status() []StatusEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]StatusEntry, 0, len(s.desired))
	for id, spec := range s.desired {
		pp, live := s.registry[id]
		entry := StatusEntry{ServerID: id, Configured: true, NeedsProxy: spec.NeedsProxy}
		if !live {
			entry.Status = "skipped"
			entries = append(entries, entry)
			continue
		}
		entry.Port = pp.Port
		entry.ProxyTypeUsed = pp.ProxyTypeUsed
		entry.FallbackUsed = pp.FallbackUsed
		entry.StartedAt = pp.StartedAt
		entry.RestartCount = pp.RestartCount
		entry.Endpoint = pp.BaseURL
		entry.Healthy = pp.State == StateHealthy
		entry.AuthError = pp.State == StateAuthRequired
		if pp.LastError != nil {
			entry.LastError = pp.LastError.Message
			entry.ErrorType = pp.LastError.Family
		}
		switch pp.State {
		case StateFailed:
			entry.Status = "failed"
		default:
			entry.Status = "running"
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ServerID < entries[j].ServerID })
	return entries
}

// Shutdown stops every live process in parallel, per spec.md §5
// "Cancellation".
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.registry))
	for id := range s.registry {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.stop(ctx, id)
		}(id)
	}
	wg.Wait()
}
