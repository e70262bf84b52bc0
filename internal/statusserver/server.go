// Package statusserver exposes the latest session status and the Prometheus
// session metrics over HTTP while a run is in progress.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"natprobe/internal/session"
)

// Server serves copies of session.Status published by the session loop.
type Server struct {
	listen   string
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger

	mu     sync.Mutex
	status *session.Status
}

// New creates a status server. A nil gatherer disables /metrics.
func New(listen string, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	return &Server{listen: listen, gatherer: gatherer, log: log}
}

// Publish replaces the served status. It is safe to call from the session
// goroutine while requests are being handled.
func (s *Server) Publish(st session.Status) {
	s.mu.Lock()
	s.status = &st
	s.mu.Unlock()
}

func (s *Server) current() (session.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return session.Status{}, false
	}
	return *s.status, true
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/registry", s.handleRegistry)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.WithField("address", ln.Addr().String()).Info("status server listening")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, ok := s.current()
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "session not started")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, ok := s.current()
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "session not started")
		return
	}
	writeJSON(w, http.StatusOK, st.Registry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
