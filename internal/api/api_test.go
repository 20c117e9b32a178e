package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcp-gateway/internal/catalog"
	"github.com/tombee/mcp-gateway/internal/classifier"
	"github.com/tombee/mcp-gateway/internal/secrets"
	"github.com/tombee/mcp-gateway/internal/supervisor"
)

// statusOnlyStrategy is a minimal mode.Strategy test double; Reconcile and
// Shutdown are no-ops since these tests only exercise the read paths and
// the auth guard on mutating routes.
type statusOnlyStrategy struct {
	entries []supervisor.StatusEntry
}

func (s statusOnlyStrategy) Reconcile(ctx context.Context, desired map[string]*catalog.ServerSpec) {
}
func (s statusOnlyStrategy) Status() []supervisor.StatusEntry { return s.entries }
func (s statusOnlyStrategy) Shutdown(ctx context.Context)     {}

func (s statusOnlyStrategy) Start(ctx context.Context, id string) error   { return nil }
func (s statusOnlyStrategy) Stop(ctx context.Context, id string) error    { return nil }
func (s statusOnlyStrategy) Restart(ctx context.Context, id string) error { return nil }

func TestHandleStatusReportsAggregateCounts(t *testing.T) {
	s := NewServer(&Server{Strategy: statusOnlyStrategy{entries: []supervisor.StatusEntry{
		{ServerID: "a", Healthy: true, Status: "running"},
		{ServerID: "b", Healthy: false, Status: "failed", ErrorType: classifier.FamilyRuntime},
	}}})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"serverId":"a"`)
	require.Contains(t, w.Body.String(), `"total":2`)
	require.Contains(t, w.Body.String(), `"failed":1`)
}

func TestHandleOpenAPIEndpointsOnlyListsHealthy(t *testing.T) {
	s := NewServer(&Server{Strategy: statusOnlyStrategy{entries: []supervisor.StatusEntry{
		{ServerID: "a", Healthy: true, Endpoint: "http://127.0.0.1:9000", ProxyTypeUsed: catalog.ProxyMCPO},
		{ServerID: "b", Healthy: false},
	}}})

	req := httptest.NewRequest(http.MethodGet, "/openapi-endpoints", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "http://127.0.0.1:9000/openapi.json")
	require.NotContains(t, w.Body.String(), `"serverId":"b"`)
}

func TestMutatingRoutesRejectMissingToken(t *testing.T) {
	s := NewServer(&Server{Strategy: statusOnlyStrategy{}, AuthSecret: "test-secret"})

	req := httptest.NewRequest(http.MethodPost, "/restart/foo", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMutatingRoutesAcceptValidToken(t *testing.T) {
	s := NewServer(&Server{Strategy: statusOnlyStrategy{}, AuthSecret: "test-secret"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/restart/foo", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
}

// recordingStrategy records which mutation it was asked to perform, so
// tests can confirm the management API actually drives the strategy
// rather than returning a disguised no-op.
type recordingStrategy struct {
	calls chan string
}

func (s recordingStrategy) Reconcile(ctx context.Context, desired map[string]*catalog.ServerSpec) {
}
func (s recordingStrategy) Status() []supervisor.StatusEntry { return nil }
func (s recordingStrategy) Shutdown(ctx context.Context)     {}

func (s recordingStrategy) Start(ctx context.Context, id string) error {
	s.calls <- "start:" + id
	return nil
}
func (s recordingStrategy) Stop(ctx context.Context, id string) error {
	s.calls <- "stop:" + id
	return nil
}
func (s recordingStrategy) Restart(ctx context.Context, id string) error {
	s.calls <- "restart:" + id
	return nil
}

func TestMutatingRoutesInvokeStrategy(t *testing.T) {
	calls := make(chan string, 1)
	s := NewServer(&Server{Strategy: recordingStrategy{calls: calls}})

	req := httptest.NewRequest(http.MethodPost, "/restart/foo", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	select {
	case call := <-calls:
		require.Equal(t, "restart:foo", call)
	case <-time.After(time.Second):
		t.Fatal("strategy.Restart was never invoked")
	}
}

func TestHandleSecretsSummaryNeverReturnsPlaintext(t *testing.T) {
	dir := t.TempDir()
	store, err := secrets.New(secrets.Config{
		SecretsDir:    filepath.Join(dir, "secrets"),
		MasterKeyPath: filepath.Join(dir, "master.key"),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save("foo", map[string]string{"GITHUB_API_KEY": "super-secret-value"}))

	s := NewServer(&Server{Strategy: statusOnlyStrategy{}, SecretStore: store})

	req := httptest.NewRequest(http.MethodGet, "/secrets/foo", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.NotContains(t, body, "super-secret-value")
	require.Contains(t, body, `"name":"GITHUB_API_KEY"`)
	require.Contains(t, body, `"inferredType":"api_key"`)
	require.Contains(t, body, `"required":true`)
}

func TestMutatingRoutesRejectWrongSigningKey(t *testing.T) {
	s := NewServer(&Server{Strategy: statusOnlyStrategy{}, AuthSecret: "test-secret"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/restart/foo", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
