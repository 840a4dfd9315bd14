// Package api is the HTTP surface of the tool server: the MCP endpoint plus
// small JSON endpoints for health checks, the tool catalog and recent logs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opsbridge/opsbridge/internal/logbuf"
	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// LogTailer abstracts the log ring buffer.
type LogTailer interface {
	Tail(n int, minLevel slog.Level) []logbuf.Entry
}

// ToolService is what the server needs from the tool server. *toolkit.Server implements it.
type ToolService interface {
	Catalog() []protocol.ToolDescriptor
	HTTPHandler() http.Handler
}

// Config holds API server configuration.
type Config struct {
	Addr string // e.g. ":8080"
	Key  string // Bearer token; empty disables auth
}

// Server serves MCP over streamable HTTP at /mcp next to the JSON endpoints.
type Server struct {
	svc    ToolService
	cfg    Config
	logger *slog.Logger
	logs   LogTailer
	srv    *http.Server
}

// NewServer creates a new API server. logs may be nil.
func NewServer(svc ToolService, cfg Config, logger *slog.Logger, logs LogTailer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("component", "api"),
		logs:   logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tools", s.requireAuth(s.handleListTools))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))
	mux.Handle("/mcp", s.requireAuth(svc.HTTPHandler().ServeHTTP))

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr, "mcp", "/mcp")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			s.logger.Warn("rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": len(s.svc.Catalog())})
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	catalog := s.svc.Catalog()
	if r.URL.Query().Get("schema") == "true" {
		writeJSON(w, http.StatusOK, catalog)
		return
	}
	tools := make([]toolInfo, 0, len(catalog))
	for _, d := range catalog {
		tools = append(tools, toolInfo{Name: d.Name, Description: d.Description})
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := []logbuf.Entry{}
	for _, e := range s.logs.Tail(0, minLevel) {
		if e.Time.After(since) {
			entries = append(entries, e)
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
