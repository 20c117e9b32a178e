// Package api exposes the management API of spec.md §6.3 over HTTP:
// the status/openapi-endpoints/per-server-health queries and the
// start/stop/restart/reload-config/secret mutations, guarded by a JWT
// bearer token on every mutating route.
//
// Grounded on the teacher's cmd/conductord HTTP wiring style (flag-
// configured listener, slog request logging) and golang-jwt/jwt/v5 for
// the bearer-token check.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tombee/mcp-gateway/internal/health"
	"github.com/tombee/mcp-gateway/internal/mode"
	"github.com/tombee/mcp-gateway/internal/portpool"
	"github.com/tombee/mcp-gateway/internal/secrets"
)

// Server wires the management API's data sources to an http.Handler.
type Server struct {
	Strategy    mode.Strategy
	Pool        *portpool.Pool
	SecretStore *secrets.Store
	Monitor     *health.Monitor
	ReloadFn    func() error
	Logger      *slog.Logger

	// AuthSecret signs and verifies bearer tokens. Empty disables auth
	// (intended for loopback-only deployments, never for allow-remote).
	AuthSecret string

	mux *http.ServeMux
}

// NewServer builds a ready-to-serve management API.
func NewServer(s *Server) *Server {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /openapi-endpoints", s.handleOpenAPIEndpoints)
	s.mux.HandleFunc("GET /health/{id}", s.handleServerHealth)
	s.mux.Handle("POST /start/{id}", s.authGuard(s.handleStart))
	s.mux.Handle("POST /stop/{id}", s.authGuard(s.handleStop))
	s.mux.Handle("POST /restart/{id}", s.authGuard(s.handleRestart))
	s.mux.Handle("POST /reload-config", s.authGuard(s.handleReload))
	s.mux.HandleFunc("GET /secrets/{id}", s.handleSecretsSummary)
	s.mux.Handle("POST /secrets/{id}", s.authGuard(s.handleSetSecret))
	s.mux.Handle("DELETE /secrets/{id}/{key}", s.authGuard(s.handleUnsetSecret))
	s.mux.Handle("DELETE /secrets/{id}", s.authGuard(s.handleDeleteSecrets))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// authGuard rejects mutating requests without a valid bearer token when
// AuthSecret is configured.
func (s *Server) authGuard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthSecret == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.AuthSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusResponse is the wire shape of the status query (spec.md §6.3).
type StatusResponse struct {
	Mode       string                    `json:"mode"`
	Servers    []ServerStatusView        `json:"servers"`
	Aggregate  AggregateCounts           `json:"aggregate"`
	PortPool   portpool.Stats            `json:"portPool"`
}

// ServerStatusView is one entry of StatusResponse.Servers.
type ServerStatusView struct {
	ServerID      string `json:"serverId"`
	Configured    bool   `json:"configured"`
	NeedsProxy    bool   `json:"needsProxy"`
	Healthy       bool   `json:"healthy"`
	AuthError     bool   `json:"authError"`
	Port          int    `json:"port"`
	ProxyTypeUsed string `json:"proxyTypeUsed"`
	FallbackUsed  bool   `json:"fallbackUsed"`
	StartedAt     string `json:"startedAt"`
	Uptime        string `json:"uptime"`
	RestartCount  int    `json:"restartCount"`
	Endpoint      string `json:"endpoint"`
	Status        string `json:"status"`
	LastError     string `json:"lastError,omitempty"`
	ErrorType     string `json:"errorType,omitempty"`
}

// AggregateCounts summarizes StatusResponse.Servers.
type AggregateCounts struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries := s.Strategy.Status()
	resp := StatusResponse{Mode: "individual"}
	if s.Pool != nil {
		resp.PortPool = s.Pool.Stats()
	}
	for _, e := range entries {
		view := ServerStatusView{
			ServerID:      e.ServerID,
			Configured:    e.Configured,
			NeedsProxy:    e.NeedsProxy,
			Healthy:       e.Healthy,
			AuthError:     e.AuthError,
			Port:          e.Port,
			ProxyTypeUsed: string(e.ProxyTypeUsed),
			FallbackUsed:  e.FallbackUsed,
			RestartCount:  e.RestartCount,
			Endpoint:      e.Endpoint,
			Status:        e.Status,
			LastError:     e.LastError,
			ErrorType:     string(e.ErrorType),
		}
		if !e.StartedAt.IsZero() {
			view.StartedAt = e.StartedAt.Format(time.RFC3339)
			view.Uptime = time.Since(e.StartedAt).String()
		}
		resp.Aggregate.Total++
		switch {
		case e.Status == "failed":
			resp.Aggregate.Failed++
		case e.Status == "skipped":
			resp.Aggregate.Skipped++
		case e.Healthy:
			resp.Aggregate.Healthy++
		}
		resp.Servers = append(resp.Servers, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

// OpenAPIEndpoint is one entry of the openapi-endpoints query.
type OpenAPIEndpoint struct {
	ServerID   string `json:"serverId"`
	BaseURL    string `json:"baseUrl"`
	OpenAPIURL string `json:"openapiUrl"`
	DocsURL    string `json:"docsUrl"`
	ProxyType  string `json:"proxyType"`
}

func (s *Server) handleOpenAPIEndpoints(w http.ResponseWriter, r *http.Request) {
	var out []OpenAPIEndpoint
	for _, e := range s.Strategy.Status() {
		if !e.Healthy {
			continue
		}
		out = append(out, OpenAPIEndpoint{
			ServerID:   e.ServerID,
			BaseURL:    e.Endpoint,
			OpenAPIURL: e.Endpoint + "/openapi.json",
			DocsURL:    e.Endpoint + "/docs",
			ProxyType:  string(e.ProxyTypeUsed),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleServerHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	metrics := s.Monitor.Metrics(id)
	alerts := s.Monitor.Alerts(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"serverId": id,
		"metrics":  metrics,
		"alerts":   alerts,
	})
}

// asyncMutation runs a strategy mutation in the background and reports
// acceptance immediately, matching the "idempotent where possible"
// contract of spec.md §6.3: start/stop/restart may block for a warmup
// probe, so the HTTP response does not wait on it.
func (s *Server) asyncMutation(id, action string, fn func(context.Context) error) {
	go func() {
		if err := fn(context.Background()); err != nil {
			s.Logger.Warn("mutation failed", "server_id", id, "action", action, "error", err)
		}
	}()
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.asyncMutation(id, "start", func(ctx context.Context) error { return s.Strategy.Start(ctx, id) })
	writeJSON(w, http.StatusAccepted, map[string]string{"serverId": id, "action": "start"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.asyncMutation(id, "stop", func(ctx context.Context) error { return s.Strategy.Stop(ctx, id) })
	writeJSON(w, http.StatusAccepted, map[string]string{"serverId": id, "action": "stop"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.asyncMutation(id, "restart", func(ctx context.Context) error { return s.Strategy.Restart(ctx, id) })
	writeJSON(w, http.StatusAccepted, map[string]string{"serverId": id, "action": "restart"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.ReloadFn == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"action": "reload-config"})
		return
	}
	if err := s.ReloadFn(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": "reload-config"})
}

type setSecretRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	vars, err := s.SecretStore.Load(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if vars == nil {
		vars = map[string]string{}
	}
	vars[req.Key] = req.Value
	if err := s.SecretStore.Save(id, vars); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"serverId": id, "key": req.Key})
}

func (s *Server) handleUnsetSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	key := r.PathValue("key")
	vars, err := s.SecretStore.Load(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	delete(vars, key)
	if err := s.SecretStore.Save(id, vars); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"serverId": id, "key": key})
}

func (s *Server) handleDeleteSecrets(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.SecretStore.Delete(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"serverId": id})
}

// SecretSummaryView mirrors secrets.Summary for API responses, kept as
// a distinct type so the wire shape does not silently change if the
// internal Summary type grows fields not meant to be public.
type SecretSummaryView struct {
	Name         string `json:"name"`
	LastUpdated  string `json:"lastUpdated"`
	Placeholder  string `json:"placeholder"`
	InferredType string `json:"inferredType"`
	Required     bool   `json:"required"`
}

// handleSecretsSummary implements the query half of spec.md §4.3
// "summary(serverId)": key names, masked placeholders, inferred type,
// and required/optional classification, never plaintext.
func (s *Server) handleSecretsSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summaries, err := s.SecretStore.Summary(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]SecretSummaryView, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, SecretSummaryView{
			Name:         sum.Name,
			LastUpdated:  sum.LastUpdated.Format(time.RFC3339),
			Placeholder:  sum.Placeholder,
			InferredType: string(sum.InferredType),
			Required:     sum.Required,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
