// Package server exposes reading sessions over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/ketabkhaneh/epubreader/internal/reader"
	"github.com/ketabkhaneh/epubreader/internal/settings"
)

const (
	paramBookID     = "bookID"
	paramBookmarkID = "bookmarkID"

	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// sectionCSP isolates rendered book markup: no scripts, no network.
const sectionCSP = "sandbox; default-src 'none'; img-src data:; style-src 'unsafe-inline'"

// Server routes requests to the registered reading sessions.
type Server struct {
	router   chi.Router
	settings *settings.Store
	logger   *slog.Logger
	validate *validator.Validate

	mu       sync.RWMutex
	sessions map[string]*reader.Session
}

// New creates a server over the shared settings store.
func New(store *settings.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		settings: store,
		logger:   logger,
		validate: validator.New(),
		sessions: make(map[string]*reader.Session),
	}
	s.router = s.routes()
	return s
}

// Register makes a session reachable under /books/{bookID}.
func (s *Server) Register(bookID string, sess *reader.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[bookID] = sess
}

// Unregister removes a session and returns it.
func (s *Server) Unregister(bookID string) (*reader.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[bookID]
	delete(s.sessions, bookID)
	return sess, ok
}

func (s *Server) session(r *http.Request) (*reader.Session, error) {
	bookID := chi.URLParam(r, paramBookID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[bookID]
	if !ok {
		return nil, errNotFound("Book is not open")
	}
	return sess, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", s.makeHandler(s.handleGetSettings))
		r.Put("/", s.makeHandler(s.handlePutSettings))
	})

	r.Route("/books/{"+paramBookID+"}", func(r chi.Router) {
		r.Get("/", s.makeHandler(s.handleGetBook))
		r.Post("/retry", s.makeHandler(s.handleRetry))
		r.Get("/section", s.makeHandler(s.handleGetSection))
		r.Get("/section.md", s.makeHandler(s.handleGetSectionMarkdown))
		r.Post("/next", s.makeHandler(s.handleNext))
		r.Post("/prev", s.makeHandler(s.handlePrev))
		r.Post("/goto", s.makeHandler(s.handleGoTo))
		r.Post("/keys", s.makeHandler(s.handleKey))
		r.Post("/visibility", s.makeHandler(s.handleVisibility))
		r.Get("/toc", s.makeHandler(s.handleGetTOC))
		r.Get("/search", s.makeHandler(s.handleSearch))
		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", s.makeHandler(s.handleListBookmarks))
			r.Post("/", s.makeHandler(s.handleAddBookmark))
			r.Post("/{"+paramBookmarkID+"}/open", s.makeHandler(s.handleOpenBookmark))
			r.Delete("/{"+paramBookmarkID+"}", s.makeHandler(s.handleDeleteBookmark))
		})
	})

	return r
}

// requestLogger logs each request with its status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("reader server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
