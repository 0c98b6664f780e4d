package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/maja42/aniscraper/internal/version"
)

// httpError is rendered as {"code": ..., "error": ...}.
type httpError struct {
	error
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *httpError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Code)
	return nil
}

func unavailable(message string) *httpError {
	return &httpError{error: errors.New(message), Code: http.StatusServiceUnavailable, Message: message}
}

type handlerFunc func(http.ResponseWriter, *http.Request) *httpError

func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			render.Render(w, r, err)
			s.logger.Warn("request failed", "path", r.URL.Path, "status", err.Code, "error", err)
		}
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handle(s.health))
	r.Get("/version", s.handle(s.versionInfo))
	r.Get("/websocket", s.handle(s.websocket))

	if s.cfg.WebappDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.WebappDir)))
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) *httpError {
	render.JSON(w, r, HealthStatus{
		Status:   "ok",
		Sessions: s.SessionCount(),
		Version:  version.Version,
	})
	return nil
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) *httpError {
	render.PlainText(w, r, version.Product+" "+version.String())
	return nil
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) *httpError {
	if s.melody.IsClosed() {
		return unavailable("server is shutting down")
	}

	keys := map[string]any{SessionKey: uuid.NewString()}
	if err := s.melody.HandleRequestWithKeys(w, r, keys); err != nil {
		// The upgrader already answered the request.
		s.logger.Warn("failed to accept client", "error", err)
	}
	return nil
}
