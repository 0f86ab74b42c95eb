package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/dshills/worklets/internal/native"
)

// maxEventBody bounds a posted event payload.
const maxEventBody = 1 << 20

// Server exposes metrics, health and a small control surface over HTTP.
type Server struct {
	addr    string
	module  *native.Module
	metrics *Collector
	logger  *Logger
	router  *mux.Router
	server  *http.Server
}

// NewServer creates a server for addr.
func NewServer(addr string, module *native.Module, metrics *Collector, logger *Logger) *Server {
	s := &Server{
		addr:    addr,
		module:  module,
		metrics: metrics,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/shared", s.handleSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/shared/{key}", s.handleShared).Methods(http.MethodGet)
	s.router.HandleFunc("/events/{name}", s.handleEvent).Methods(http.MethodPost)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("http server listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.module.Closed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "closed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.module.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":         s.module.Kind(),
		"handlers":       st.Handlers,
		"mappers":        st.Mappers,
		"frameCallbacks": st.FrameCallbacks,
		"sharedValues":   st.SharedValues,
		"uiPending":      st.UIPending,
		"jsPending":      st.JSPending,
		"errors":         st.Errors,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.module.Store().Snapshot())
}

func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	v, ok := s.module.Store().Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown key " + key})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
}

// handleEvent queues the request body as the payload of the named event.
// An empty body posts a nil payload.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var payload any
	if len(body) > 0 {
		if !gjson.ValidBytes(body) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload is not valid JSON"})
			return
		}
		payload = gjson.ParseBytes(body).Value()
	}

	if !s.module.IsAnyHandlerWaitingForEvent(name) {
		writeJSON(w, http.StatusAccepted, map[string]any{"event": name, "dispatched": false})
		return
	}
	if err := s.module.PostEvent(s.module.Now(), name, payload); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event": name, "dispatched": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
