// Package api exposes the backup, restore and ledger operations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"multidb-backup/internal/logging"
)

// NewRouter wires the API routes
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/backup", func(r chi.Router) {
			r.Post("/", h.Backup)
			r.Post("/run", h.Backup)
			r.Post("/test-connection", h.TestConnection)
		})
		r.Post("/restore", h.Restore)

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", h.ListLogs)
			r.Get("/{id}", h.GetLog)
		})
		r.Route("/metadata", func(r chi.Router) {
			r.Get("/", h.ListMetadata)
			r.Get("/{id}", h.GetMetadata)
			r.Get("/{id}/lineage", h.GetLineage)
		})
	})

	return r
}

// requestLogger logs one line per request at debug level, failures at info
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			entry := logger.WithFields(logrus.Fields{
				"request_id": chimiddleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       sanitizeLogValue(r.URL.Path),
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
			})
			if ww.Status() >= http.StatusBadRequest {
				entry.Info("HTTP request")
			} else {
				entry.Debug("HTTP request")
			}
		})
	}
}
