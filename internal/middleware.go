package internal

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/chatrelay/internal/auth"
	"github.com/johndosdos/chatrelay/internal/response"
)

// Identify resolves the caller and attaches the identity to the request
// context. Requests with a bearer token that fails validation are rejected.
func Identify(tokenSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Resolve(r, tokenSecret)
			if err != nil {
				slog.WarnContext(r.Context(), "rejected bearer token",
					"error", err,
					"path", r.URL.Path)
				response.Fail(w, r, http.StatusUnauthorized, "invalid or expired token", "")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequestLogger logs every request once the response has been written.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
