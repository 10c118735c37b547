// Package diagnostics exposes read-only JSON introspection over the
// reactor's internal counters — pending-table fill level and capacity
// at /api/pending, plus a /api/healthz liveness route — the same way
// the teacher's server package exposes a gorilla/mux-routed HTTP API
// over its own session state. The kinetic package never starts it;
// cmd/kineticd starts it whenever diagnostics.addr is non-empty, which
// config.Default sets to ":2380".
package diagnostics

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Reactor is the subset of *listener.Listener diagnostics needs,
// kept as an interface so this package never imports the listener
// package (and can be exercised against a fake in tests).
type Reactor interface {
	FillLevel() int
	Capacity() int
}

// Server is a small introspection HTTP server. The zero value is not
// usable; call New.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	reactor    Reactor
}

// New builds a diagnostics Server bound to addr, reporting on
// reactor's counters.
func New(addr string, reactor Reactor) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		reactor: reactor,
	}
	s.setupRoutes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pending", s.handlePending).Methods("GET")
	api.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
}

type pendingStatus struct {
	FillLevel int `json:"fill_level"`
	Capacity  int `json:"capacity"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	status := pendingStatus{
		FillLevel: s.reactor.FillLevel(),
		Capacity:  s.reactor.Capacity(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.WithError(err).Warn("diagnostics: failed to encode pending status")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Handler returns the server's http.Handler, for embedding in another
// mux or for testing against httptest without binding a real socket.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving the diagnostics API until the server
// is shut down or fails.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Close shuts the HTTP server down immediately.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
