package portpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllocateIsIdempotentAndLowestFirst(t *testing.T) {
	p := New(4000, 4005)

	port, ok := p.Allocate("a")
	require.True(t, ok)
	require.Equal(t, 4000, port)

	again, ok := p.Allocate("a")
	require.True(t, ok)
	require.Equal(t, port, again)

	second, ok := p.Allocate("b")
	require.True(t, ok)
	require.Equal(t, 4001, second)
}

func TestReleaseHonorsReuseCooldown(t *testing.T) {
	p := New(4000, 4000) // size-1 range: the boundary case from spec.md §8

	port, ok := p.Allocate("a")
	require.True(t, ok)
	require.Equal(t, 4000, port)

	_, ok = p.Allocate("b")
	require.False(t, ok, "range of size 1 has no second port to give")

	p.Release("a")

	fakeNow := time.Now()
	p.now = func() time.Time { return fakeNow }
	p.drainingAt[port] = draining{releasedAt: fakeNow.Add(-ReuseCooldown / 2)}

	_, ok = p.Allocate("b")
	require.False(t, ok, "cooldown has not elapsed")

	p.now = func() time.Time { return fakeNow.Add(ReuseCooldown + time.Millisecond) }
	got, ok := p.Allocate("b")
	require.True(t, ok)
	require.Equal(t, 4000, got)
}

func TestEntriesReflectsAllocationSet(t *testing.T) {
	p := New(5000, 5010)
	p.Allocate("x")
	p.Allocate("y")

	entries := p.Entries()
	require.Len(t, entries, 2)

	stats := p.Stats()
	require.Equal(t, 11, stats.Total)
	require.Equal(t, 2, stats.Allocated)
}
