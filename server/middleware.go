package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/logging"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/session"
)

type ctxKey int

const (
	callerKey ctxKey = iota
	tokenKey
)

// callerFrom returns the identity resolved for r, or nil when anonymous.
func callerFrom(r *http.Request) *library.Caller {
	c, _ := r.Context().Value(callerKey).(*library.Caller)
	return c
}

func tokenFrom(r *http.Request) string {
	t, _ := r.Context().Value(tokenKey).(string)
	return t
}

// statusRecorder captures the status code and matched route of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	route  string
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// cors admits credentialed requests from the one trusted origin and answers
// every preflight with 204.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.opts.AllowedOrigin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			if origin != "" && origin == s.opts.AllowedOrigin {
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				h.Set("Access-Control-Max-Age", "600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe assigns a request id, recovers panics, and records the access log
// and HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), logging.RequestIDKey, id)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK, route: "unmatched"}
		defer func() {
			if p := recover(); p != nil {
				s.log.WithContext(ctx).Error("panic serving request", "panic", fmt.Sprint(p), "path", r.URL.Path)
				writeError(rec, http.StatusInternalServerError, "internal server error")
			}
			d := time.Since(start)
			s.metrics.RecordHTTP(r.Method, rec.route, rec.status, d)
			s.log.WithContext(ctx).HTTPRequestLog(r.Method, r.URL.Path, rec.status, d, clientIP(r))
		}()

		next.ServeHTTP(rec, r)
	})
}

// identify resolves the session token of r into a caller. Unknown tokens and
// sessions of deleted users make the request anonymous.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.requestToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		userID, err := s.sessions.Lookup(ctx, token)
		if errors.Is(err, session.ErrNotFound) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			s.fail(w, r, fmt.Errorf("lookup session: %w", err))
			return
		}

		caller, err := s.lib.Users.Resolve(ctx, userID)
		if errors.Is(err, library.ErrNotFound) {
			_ = s.sessions.Delete(ctx, token)
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			s.fail(w, r, fmt.Errorf("resolve session user: %w", err))
			return
		}

		ctx = context.WithValue(ctx, callerKey, caller)
		ctx = context.WithValue(ctx, tokenKey, token)
		ctx = context.WithValue(ctx, logging.UsernameKey, caller.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestToken reads the session cookie, falling back to a bearer token.
func (s *Server) requestToken(r *http.Request) string {
	if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
