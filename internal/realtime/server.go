// Package realtime exposes the HTTP API: push channels (SSE and WebSocket)
// bound to chat sessions, and the draft, validation and promotion routes.
package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"skill-forge/internal/agent"
	"skill-forge/internal/draft"
	"skill-forge/internal/promote"
	"skill-forge/internal/session"
)

// APIPrefix is the mount point of every route.
const APIPrefix = "/api/skill-creator"

const (
	defaultHeartbeat = 15 * time.Second
	writeDeadline    = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	// Heartbeat is the keep-alive interval of push channels.
	Heartbeat time.Duration
	// StaticDir, when set, is served at the root.
	StaticDir string
}

// Server routes HTTP requests to the session registry, the draft store and
// the promotion pipeline.
type Server struct {
	sessions *session.Manager
	store    *draft.Store
	promoter *promote.Pipeline
	cfg      Config
	started  time.Time
}

// New creates a new realtime server.
func New(sessions *session.Manager, store *draft.Store, promoter *promote.Pipeline, cfg Config) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Server{
		sessions: sessions,
		store:    store,
		promoter: promoter,
		cfg:      cfg,
		started:  time.Now().UTC(),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Route(APIPrefix, func(r chi.Router) {
		// Push channels.
		r.Get("/stream", s.handleSSE)
		r.Get("/ws", s.handleWebSocket)

		r.Post("/chat", s.handleChat)

		r.Route("/drafts", func(r chi.Router) {
			r.Get("/", s.handleListDrafts)
			r.Post("/", s.handleNewDraft)
			r.Route("/{name}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteDraft)
				r.Get("/files", s.handleListFiles)
				r.Get("/file", s.handleReadFile)
				r.Put("/file", s.handleWriteFile)
				r.Post("/upload", s.handleUpload)
				r.Get("/validate", s.handleValidate)
				r.Post("/promote", s.handlePromote)
			})
		})

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)

		r.Get("/healthz", s.handleHealth)
	})

	// Static file serving.
	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeErr maps a domain error to its status code.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var tooLarge *draft.UploadTooLargeError
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, draft.ErrInvalidName),
		errors.Is(err, draft.ErrPathEscape),
		errors.Is(err, draft.ErrIsDirectory),
		errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, draft.ErrNotFound),
		errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, promote.ErrNotPromotable),
		errors.Is(err, draft.ErrExists):
		return http.StatusConflict
	case errors.As(err, &tooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrTooManyProcesses):
		return http.StatusServiceUnavailable
	case errors.Is(err, agent.ErrSpawn):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
