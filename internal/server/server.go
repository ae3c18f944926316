// Package server provides the gateway health http server.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// StatusFunc produces the health snapshot served at /healthz.
type StatusFunc func() (any, error)

// A Server serves GET /healthz with the gateway health snapshot; every other
// path is a 404.
type Server struct {
	addr   string
	status StatusFunc
	svr    *http.Server
	lg     *log.Entry
}

// New returns a health server bound to port on all interfaces.
func New(port int, status StatusFunc) *Server {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	mux := &http.ServeMux{}
	s := &Server{
		addr:   addr,
		status: status,
		svr:    &http.Server{Addr: addr, Handler: mux},
		lg:     log.WithField("component", "health"),
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

// Addr returns the server address.
func (s *Server) Addr() string { return s.addr }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	status, err := s.status()
	if err != nil {
		s.lg.WithError(err).Error("failed to build health status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.lg.WithError(err).Error("failed to write health response")
	}
}

// Start begins listening. A port that cannot be bound is reported
// synchronously as a startup failure.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.lg.WithField("addr", s.addr).Info("health server started")
	go func() {
		if err := s.svr.Serve(ln); err != http.ErrServerClosed {
			s.lg.WithError(err).Error("health server failed")
		}
	}()
	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop() error {
	s.lg.Info("shutdown health server...")
	if err := s.svr.Shutdown(context.Background()); err != nil {
		s.lg.WithError(err).Warn("health server shutdown")
		return err
	}
	return nil
}
