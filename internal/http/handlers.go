package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/notes"
	"github.com/example/ride-dispatch/internal/proximity"
	"github.com/example/ride-dispatch/internal/rooms"
)

const internalTokenHeader = "X-Internal-Token"

// Deps are the collaborators the gateway routes events to.
type Deps struct {
	Resolver  *identity.Resolver
	Topology  *rooms.Topology
	Dispatch  *dispatch.Service
	Notes     *notes.Service
	Proximity *proximity.Bridge
	// Ready reports whether backing stores are reachable.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger

	EventTimeout  time.Duration
	SendQueueSize int
	InternalToken string
}

type Server struct {
	deps   Deps
	mux    *mux.Router
	logger *slog.Logger

	// ctx is canceled by CloseConnections to end every live websocket.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

func NewServer(d Deps) *Server {
	if d.EventTimeout <= 0 {
		d.EventTimeout = 10 * time.Second
	}
	if d.SendQueueSize <= 0 {
		d.SendQueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{deps: d, mux: mux.NewRouter(), logger: logging.Component(d.Logger, "gateway"), ctx: ctx, cancel: cancel}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/internal/bookings/{id}/transitions", s.handleTransition).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// CloseConnections ends every websocket session and waits for their
// goroutines, or until ctx expires. http.Server.Shutdown does not track
// hijacked connections.
func (s *Server) CloseConnections(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness_check_failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleTransition is called by the completion workflow after it changed a
// booking's status, so the parties see the change.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	if want := s.deps.InternalToken; want != "" {
		got := r.Header.Get(internalTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid internal token"})
			return
		}
	}
	id := mux.Vars(r)["id"]
	b, err := s.deps.Dispatch.RouteExternalTransition(r.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		switch apperr.KindOf(err) {
		case apperr.Validation:
			status = http.StatusBadRequest
		case apperr.NotFound:
			status = http.StatusNotFound
		}
		if status == http.StatusBadGateway {
			s.logger.Error("external_transition_failed", "booking_id", id, "error", err)
		}
		writeJSON(w, status, map[string]string{"error": apperr.PublicMessage(err, "Failed to load booking")})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": b.ID, "status": string(b.Status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
