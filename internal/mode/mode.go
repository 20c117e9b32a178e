// Package mode implements the three proxy-topology strategies of
// spec.md §4.8: Individual (one bridge per server, the default),
// Unified (one multiplexing bridge), and Multi-transport (Unified plus
// auxiliary per-server-per-transport gateways). Each is a thin
// composition over internal/supervisor rather than a subclass, per the
// REDESIGN FLAG in spec.md §9 favoring composition over inheritance.
package mode

import (
	"context"

	"github.com/tombee/mcp-gateway/internal/catalog"
	"github.com/tombee/mcp-gateway/internal/supervisor"
)

// Strategy is the interface the daemon drives regardless of topology.
type Strategy interface {
	Reconcile(ctx context.Context, desired map[string]*catalog.ServerSpec)
	Status() []supervisor.StatusEntry
	Shutdown(ctx context.Context)

	// Start, Stop, and Restart implement the management API's per-server
	// mutations (spec.md §6.3). Restart resets the restart counter.
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
}

// Individual is the default strategy: delegate straight to the
// supervisor, one child per ServerSpec (spec.md §4.8.1).
type Individual struct {
	Supervisor *supervisor.Supervisor
}

func (i *Individual) Reconcile(ctx context.Context, desired map[string]*catalog.ServerSpec) {
	i.Supervisor.Reconcile(ctx, desired)
}

func (i *Individual) Status() []supervisor.StatusEntry { return i.Supervisor.Status() }

func (i *Individual) Shutdown(ctx context.Context) { i.Supervisor.Shutdown(ctx) }

func (i *Individual) Start(ctx context.Context, id string) error   { return i.Supervisor.Start(ctx, id) }
func (i *Individual) Stop(ctx context.Context, id string) error    { return i.Supervisor.Stop(ctx, id) }
func (i *Individual) Restart(ctx context.Context, id string) error { return i.Supervisor.Restart(ctx, id) }
