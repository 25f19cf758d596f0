// Package keepalive serves a tiny HTTP endpoint so hosting platforms that
// probe a port keep the bot process alive.
package keepalive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels"
)

// Config configures the keep-alive listener.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DefaultConfig listens on :3000.
func DefaultConfig() Config {
	return Config{Enabled: true, Address: ":3000"}
}

// HealthSource reports channel health for /health.
type HealthSource interface {
	Name() string
	Health() channels.HealthStatus
}

// Server is the keep-alive HTTP server.
type Server struct {
	cfg       Config
	sources   []HealthSource
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a keep-alive server reporting the health of sources.
func New(cfg Config, logger *slog.Logger, sources ...HealthSource) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultConfig().Address
	}
	return &Server{
		cfg:     cfg,
		sources: sources,
		logger:  logger.With("component", "keepalive"),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("keepalive listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("keepalive server error", "error", err)
		}
	}()
	s.logger.Info("keepalive started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("keepalive stopping...")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	uptime := time.Since(s.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}

	status := "ok"
	channelsMap := make(map[string]channels.HealthStatus, len(s.sources))
	for _, src := range s.sources {
		h := src.Health()
		if !h.Connected {
			status = "degraded"
		}
		channelsMap[src.Name()] = h
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"uptime":   uptime,
		"channels": channelsMap,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
