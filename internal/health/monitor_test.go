package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingOverwritesOldestOnOverflow(t *testing.T) {
	r := newRing(3)
	r.add(Record{StatusCode: 1})
	r.add(Record{StatusCode: 2})
	r.add(Record{StatusCode: 3})
	r.add(Record{StatusCode: 4})

	entries := r.entries()
	require.Len(t, entries, 3)
	require.Equal(t, 2, entries[0].StatusCode)
	require.Equal(t, 4, entries[2].StatusCode)
}

func TestMetricsComputeUptimeAndConsecutiveFailures(t *testing.T) {
	m := New(nil, 4)
	m.Register(Target{ServerID: "s", BaseURL: "http://example.invalid", Kind: "stdio"})

	m.record("s", Record{Healthy: true, ResponseTime: 10 * time.Millisecond})
	m.record("s", Record{Healthy: true, ResponseTime: 20 * time.Millisecond})
	m.record("s", Record{Healthy: false})
	m.record("s", Record{Healthy: false})

	metrics := m.Metrics("s")
	require.Equal(t, 50.0, metrics.UptimePercent)
	require.Equal(t, 2, metrics.ConsecutiveFailures)
	require.Equal(t, 15*time.Millisecond, metrics.AvgResponseTime)
}

func TestAlertsFireAtThresholds(t *testing.T) {
	m := New(nil, 4)
	m.Register(Target{ServerID: "s"})
	for i := 0; i < 3; i++ {
		m.record("s", Record{Healthy: false})
	}
	alerts := m.Alerts("s")
	names := map[string]bool{}
	for _, a := range alerts {
		names[a.Name] = true
	}
	require.True(t, names["consecutive_failures"])
}

func TestRemediationSkipsAuthError(t *testing.T) {
	m := New(nil, 4)
	target := Target{ServerID: "s"}
	m.Register(target)
	for i := 0; i < 5; i++ {
		m.record("s", Record{Healthy: false})
	}
	m.remediate(target, Record{Healthy: false, AuthError: true})

	select {
	case <-m.Restarts():
		t.Fatal("must not request restart when the latest probe is an auth error")
	default:
	}
}

func TestRemediationRequestsRestartAtFiveConsecutiveFailures(t *testing.T) {
	m := New(nil, 4)
	target := Target{ServerID: "s"}
	m.Register(target)
	for i := 0; i < 5; i++ {
		m.record("s", Record{Healthy: false})
	}
	m.remediate(target, Record{Healthy: false})

	select {
	case req := <-m.Restarts():
		require.Equal(t, "s", req.ServerID)
		require.Equal(t, "consecutive_failures", req.Reason)
	default:
		t.Fatal("expected a queued restart request")
	}
}

func TestProbeSucceedsOnFirstHealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := New(nil, 1)
	rec := m.probe(context.Background(), Target{ServerID: "s", BaseURL: srv.URL, Kind: "stdio"})
	require.True(t, rec.Healthy)
	require.Equal(t, http.StatusOK, rec.StatusCode)
}

func TestProbeReportsAuthErrorOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := New(nil, 1)
	rec := m.probe(context.Background(), Target{ServerID: "s", BaseURL: srv.URL, Kind: "stdio"})
	require.False(t, rec.Healthy)
	require.True(t, rec.AuthError)
}
