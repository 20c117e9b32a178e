// Package portpool implements the contiguous-range port allocator of
// spec.md §3.7/§4.2: deterministic lowest-first allocation, idempotent
// re-allocation for a still-live id, and a 10-second reuse cooldown after
// release to dodge EADDRINUSE on fast restarts.
//
// The single-writer invariant (spec.md §4.5, §5) is enforced by a mutex
// guarding the pool's maps, mirroring the style of the teacher's
// internal/mcp.Manager: every mutation happens inside one lock, and waits
// (the cooldown) never happen while holding it.
package portpool

import (
	"sync"
	"time"
)

// ReuseCooldown is the minimum interval between a port's release and its
// next allocation to any server id, including the one that released it
// (spec.md §4.2).
const ReuseCooldown = 10 * time.Second

type draining struct {
	releasedAt time.Time
}

// Pool allocates ports out of a fixed [start, end] range.
type Pool struct {
	mu sync.Mutex

	start, end int
	byServer   map[string]int    // serverId -> port
	byPort     map[int]string    // port -> serverId (only while allocated)
	drainingAt map[int]draining  // port -> when it was released
	now        func() time.Time
}

// New creates a pool over the inclusive range [start, end].
func New(start, end int) *Pool {
	return &Pool{
		start:      start,
		end:        end,
		byServer:   make(map[string]int),
		byPort:     make(map[int]string),
		drainingAt: make(map[int]draining),
		now:        time.Now,
	}
}

// Allocate returns a port for serverId. If serverId already holds a port
// it is returned unchanged (idempotent). Otherwise the lowest free,
// non-draining port in range is reserved. Returns ok=false if the range is
// exhausted.
func (p *Pool) Allocate(serverID string) (port int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, has := p.byServer[serverID]; has {
		return existing, true
	}

	now := p.now()
	for candidate := p.start; candidate <= p.end; candidate++ {
		if _, taken := p.byPort[candidate]; taken {
			continue
		}
		if d, drain := p.drainingAt[candidate]; drain {
			if now.Sub(d.releasedAt) < ReuseCooldown {
				continue
			}
			delete(p.drainingAt, candidate)
		}
		p.byServer[serverID] = candidate
		p.byPort[candidate] = serverID
		return candidate, true
	}

	return 0, false
}

// Release frees serverId's port. The port enters the draining state and
// will not be handed to any server id, the releasing one included, until
// ReuseCooldown elapses.
func (p *Pool) Release(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	port, has := p.byServer[serverID]
	if !has {
		return
	}
	delete(p.byServer, serverID)
	delete(p.byPort, port)
	p.drainingAt[port] = draining{releasedAt: p.now()}
}

// IsAvailable reports whether port could be allocated right now: in range,
// not currently held, and not within its reuse cooldown.
func (p *Pool) IsAvailable(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < p.start || port > p.end {
		return false
	}
	if _, taken := p.byPort[port]; taken {
		return false
	}
	if d, drain := p.drainingAt[port]; drain {
		return p.now().Sub(d.releasedAt) >= ReuseCooldown
	}
	return true
}

// Stats summarizes pool occupancy for the management API.
type Stats struct {
	RangeStart int
	RangeEnd   int
	Total      int
	Allocated  int
	Draining   int
	Free       int
}

// Stats returns current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.end - p.start + 1
	allocated := len(p.byPort)
	draining := 0
	now := p.now()
	for _, d := range p.drainingAt {
		if now.Sub(d.releasedAt) < ReuseCooldown {
			draining++
		}
	}
	return Stats{
		RangeStart: p.start,
		RangeEnd:   p.end,
		Total:      total,
		Allocated:  allocated,
		Draining:   draining,
		Free:       total - allocated - draining,
	}
}

// Entry pairs a server id with its allocated port, for entries().
type Entry struct {
	ServerID string
	Port     int
}

// Entries lists every currently-allocated (serverId, port) pair.
func (p *Pool) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]Entry, 0, len(p.byServer))
	for id, port := range p.byServer {
		entries = append(entries, Entry{ServerID: id, Port: port})
	}
	return entries
}
