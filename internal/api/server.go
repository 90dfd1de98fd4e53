// Package api exposes the engine over a small JSON HTTP interface.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/makemagic/internal/logging"
	"github.com/marcus/makemagic/internal/magic"
)

const banner = `make magic httpd API is running and happy
	/task		GET: list tasks
	/task		POST: create new task (takes {"requirements": []} at minimum)
	/task/uuid	GET: show task
`

// Server routes API requests to an engine.
type Server struct {
	engine *magic.Engine
	mux    *http.ServeMux
	log    *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New builds the router.
func New(engine *magic.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		mux:    http.NewServeMux(),
		log:    logging.Component("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleBanner)

	s.mux.HandleFunc("GET /task", s.handleListTasks)
	s.mux.HandleFunc("POST /task", s.handleCreateTask)
	s.mux.HandleFunc("POST /task/create", s.handleCreateTask)

	s.mux.HandleFunc("GET /task/{uuid}", s.handleGetTask)
	s.mux.HandleFunc("DELETE /task/{uuid}", s.handleDeleteTask)
	s.mux.HandleFunc("GET /task/{uuid}/available", s.handleAvailable)
	s.mux.HandleFunc("GET /task/{uuid}/metadata", s.handleGetMetadata)
	s.mux.HandleFunc("POST /task/{uuid}/metadata", s.handleUpdateMetadata)

	s.mux.HandleFunc("GET /task/{uuid}/{item}", s.handleGetItem)
	s.mux.HandleFunc("POST /task/{uuid}/{item}", s.handleUpdateItem)
	s.mux.HandleFunc("GET /task/{uuid}/{item}/state", s.handleGetState)
	s.mux.HandleFunc("POST /task/{uuid}/{item}/state", s.handleUpdateState)
}

// ServeHTTP logs every request and renders the mux's own 404 and 405
// responses as JSON errors.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	if h, pattern := s.mux.Handler(r); pattern == "" {
		s.unmatched(rec, r, h)
	} else {
		s.mux.ServeHTTP(rec, r)
	}

	s.log.Zerolog().Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("request")
}

// unmatched runs the mux fallback into a scratch writer to learn its status,
// then answers in the API's error format.
func (s *Server) unmatched(w http.ResponseWriter, r *http.Request, h http.Handler) {
	rec := &scratchWriter{header: http.Header{}}
	h.ServeHTTP(rec, r)

	switch rec.status {
	case http.StatusNotFound:
		writeError(w, http.StatusNotFound, fmt.Sprintf("no resource at %s", r.URL.Path))
	case http.StatusMethodNotAllowed:
		if allow := rec.header.Get("Allow"); allow != "" {
			w.Header().Set("Allow", allow)
		}
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	default:
		for k, v := range rec.header {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.status)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type scratchWriter struct {
	header http.Header
	status int
}

func (p *scratchWriter) Header() http.Header { return p.header }

func (p *scratchWriter) Write(b []byte) (int, error) {
	if p.status == 0 {
		p.status = http.StatusOK
	}
	return len(b), nil
}

func (p *scratchWriter) WriteHeader(code int) {
	if p.status == 0 {
		p.status = code
	}
}
