// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tech42-ai/storycast/internal/log"
)

const (
	userIDHeader  = "X-User-ID"
	ttsKeyHeader  = "X-Tech42-TTS-Key"
	defaultUserID = "anonymous"
)

// requestID attaches a request id to the context and response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one structured line per request and feeds the HTTP
// metrics.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start)

		httpRequestsTotal.WithLabelValues(route, r.Method, fmt.Sprintf("%dxx", sw.status/100)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		log.WithComponentFromContext(r.Context(), "api").Info().
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", elapsed).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// bearerAuth rejects requests whose Authorization header does not carry the
// configured token. Comparison is constant time. An empty configured token
// disables authentication (local development).
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				authFailuresTotal.Inc()
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userFrom resolves the caller identity for store key scoping.
func userFrom(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get(userIDHeader)); uid != "" {
		return uid
	}
	return defaultUserID
}
