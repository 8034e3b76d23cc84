// Package staticserve serves each Task's output directory
// (/magi_output/<processId>/) over HTTP, per §6 Persistent state. Grounded
// on the teacher's internal/gateway/http_server.go (net.Listen +
// http.Server.Serve in a goroutine, graceful Shutdown).
package staticserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"
)

// Config configures a Server.
type Config struct {
	Addr    string
	RootDir string // base directory containing one subdirectory per processId
	Logger  *slog.Logger
}

// Server serves RootDir/<processId>/... under /output/<processId>/....
type Server struct {
	addr     string
	rootDir  string
	log      *slog.Logger
	http     *http.Server
	listener net.Listener
}

// New constructs a Server. Start must be called to begin serving.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: cfg.Addr, rootDir: cfg.RootDir, log: log}
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	fileServer := http.FileServer(http.Dir(s.rootDir))
	mux.Handle("/output/", http.StripPrefix("/output/", fileServer))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("staticserve: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("staticserve: server error", "error", err)
		}
	}()
	s.log.Info("staticserve: serving", "addr", s.addr, "root", s.rootDir)
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// PathFor returns the filesystem directory for processId's output.
func (s *Server) PathFor(processID string) string {
	return filepath.Join(s.rootDir, processID)
}

// URLFor returns the URL prefix serving processId's output.
func (s *Server) URLFor(processID string) string {
	return "/output/" + processID + "/"
}
