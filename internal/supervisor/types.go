// Package supervisor implements the reconciliation engine of spec.md
// §4.5: a single-writer registry of live bridge children, a per-server
// state machine, crash-loop damping, and proxy-type fallback.
//
// Grounded on the teacher's internal/mcp.Manager (state enum, monitor
// loop, calculateBackoff) and other_examples/Bigsy-mcpmu supervisor.go
// (process handle lifecycle, SIGTERM-then-SIGKILL stop).
package supervisor

import (
	"time"

	"github.com/tombee/mcp-gateway/internal/catalog"
	"github.com/tombee/mcp-gateway/internal/classifier"
)

// State is one node of the per-server state machine (spec.md §4.5.1).
type State string

const (
	StateDown         State = "down"
	StateStarting     State = "starting"
	StateHealthy      State = "healthy"
	StateUnhealthy    State = "unhealthy"
	StateAuthRequired State = "auth_required"
	StateStopping     State = "stopping"
	StateFailed       State = "failed"
)

// maxRestartsPerCrashWindow and crashWindow implement the crash-loop
// damper (spec.md §4.5.3): at most 3 start attempts per server in a
// rolling 30-minute window.
const (
	maxRestartsPerCrashWindow = 3
	crashWindow               = 30 * time.Minute
	maxChildExitRestarts      = 3
	childExitBackoff          = 5 * time.Second
	warmupStdio               = 8 * time.Second
	warmupRemote              = 15 * time.Second
	stopSpacing               = 2 * time.Second
	massRemovalThreshold      = 3
	massRemovalExtraWait      = 5 * time.Second
)

// ProxyProcess is one live bridge child, the registry's value type.
type ProxyProcess struct {
	ServerID      string
	Port          int
	ProxyTypeUsed catalog.ProxyType
	PID           int
	StartedAt     time.Time
	State         State
	FallbackUsed  bool
	WorkDir       string
	BaseURL       string
	RestartCount  int
	LastError     *classifier.ErrorRecord

	proc          Process
	spec          *catalog.ServerSpec
	stopRequested bool
}

// FallbackState tracks proxy-type attempts for a server id across the
// crash-loop damper's window (spec.md §3.1).
type FallbackState struct {
	AttemptedTypes map[catalog.ProxyType]bool
	TotalAttempts  int
	LastAttemptAt  time.Time
}

func newFallbackState() *FallbackState {
	return &FallbackState{AttemptedTypes: make(map[catalog.ProxyType]bool)}
}

// StatusEntry is the per-server shape of the management API's status
// query (spec.md §6.3).
type StatusEntry struct {
	ServerID      string
	Configured    bool
	NeedsProxy    bool
	Healthy       bool
	AuthError     bool
	Port          int
	ProxyTypeUsed catalog.ProxyType
	FallbackUsed  bool
	StartedAt     time.Time
	RestartCount  int
	Endpoint      string
	Status        string // running, failed, skipped
	LastError     string
	ErrorType     classifier.Family
}
