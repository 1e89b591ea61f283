// Package server exposes a read-only HTTP view of a registry.
//
// Routes:
//
//	GET /healthz
//	GET /manager
//	GET /connections/{id}
//	GET /connections/{id}/resultsets/{rid}
//
// Every lookup goes through the registry's handle validator; a handle that
// does not resolve is reported as 404.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/logger"
	"github.com/koustreak/dbireg/internal/registry"
)

// Server serves registry snapshots. The registry is single-threaded, so
// every handler holds mu while it reads; callers that mutate the registry
// concurrently must share the same lock (see WithLocker).
type Server struct {
	reg *registry.Registry
	mh  registry.Handle
	mu  sync.Locker
	log *logger.Logger
	mux chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLocker shares a lock with code that mutates the registry.
func WithLocker(mu sync.Locker) Option {
	return func(s *Server) { s.mu = mu }
}

// WithLogger sets the request logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New builds the router for the manager behind mh.
func New(reg *registry.Registry, mh registry.Handle, opts ...Option) *Server {
	s := &Server{reg: reg, mh: mh, mu: &sync.Mutex{}, log: logger.Global()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	r.Get("/manager", s.manager)
	r.Route("/connections/{id}", func(r chi.Router) {
		r.Get("/", s.connection)
		r.Get("/resultsets/{rid}", s.resultSet)
	})
	s.mux = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("duration", time.Since(start).String()).
			Logger().Debug("request served")
	})
}

// --- handlers ---

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ok := s.reg.Valid(s.mh)
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no manager"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) manager(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	info, err := s.reg.ManagerInfo(s.mh)
	s.mu.Unlock()

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) connection(w http.ResponseWriter, r *http.Request) {
	h, err := s.handle(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	info, err := s.reg.ConnectionInfo(h)
	s.mu.Unlock()

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) resultSet(w http.ResponseWriter, r *http.Request) {
	h, err := s.handle(r, "id", "rid")
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	info, err := s.reg.ResultSetInfo(h)
	s.mu.Unlock()

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handle builds an unbound handle under the served manager from URL params.
func (s *Server) handle(r *http.Request, params ...string) (registry.Handle, error) {
	ids := []int{s.mh.ManagerID()}
	for _, p := range params {
		id, err := strconv.Atoi(chi.URLParam(r, p))
		if err != nil {
			return registry.Handle{}, errs.Wrap(errs.ErrKindInvalidInput, "invalid "+p, err)
		}
		ids = append(ids, id)
	}
	return registry.FromInts(ids...)
}

// --- responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsInvalidHandle(err), errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsInvalidInput(err):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"error":   errs.KindOf(err).String(),
		"message": err.Error(),
	})
}
