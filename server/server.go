// Package server exposes the library over HTTP: JSON endpoints, the session
// cookie, CORS, health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/logging"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/session"
)

// Options tunes the HTTP layer.
type Options struct {
	AllowedOrigin  string
	CookieName     string
	CookieSecure   bool
	CookieSameSite http.SameSite
	// SessionTTL bounds the cookie lifetime; 0 makes it a browser-session cookie.
	SessionTTL time.Duration
}

// Server routes requests to the library services.
type Server struct {
	lib      *library.Manager
	sessions session.Store
	log      *logging.Logger
	metrics  *Metrics
	opts     Options

	mux     *http.ServeMux
	handler http.Handler
}

// New wires the routes and middleware and starts reporting store operations
// to the log and metrics.
func New(lib *library.Manager, sessions session.Store, log *logging.Logger, opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "LIBRARY_SESSION"
	}
	if opts.CookieSameSite == 0 {
		opts.CookieSameSite = http.SameSiteLaxMode
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		lib:      lib,
		sessions: sessions,
		log:      log,
		metrics:  NewMetrics("library"),
		opts:     opts,
		mux:      http.NewServeMux(),
	}
	s.routes()
	s.handler = s.cors(s.observe(s.identify(s.mux)))
	lib.SetObserver(s.observeQuery)
	return s
}

func (s *Server) routes() {
	s.handle("POST /users/login", s.login)
	s.handle("POST /users/register", s.register)
	s.handle("POST /users/logout", s.logout)
	s.handle("GET /users", s.listUsers)
	s.handle("GET /users/{username}", s.getUser)
	s.handle("PATCH /users/{username}", s.editUser)
	s.handle("DELETE /users/{username}", s.deleteUser)

	s.handle("GET /books", s.listBooks)
	s.handle("GET /books/{id}", s.getBook)
	s.handle("POST /books", s.createBook)
	s.handle("PATCH /books/{id}", s.editBook)
	s.handle("DELETE /books/{id}", s.deleteBook)

	s.handle("POST /bookLogs/{bookId}", s.issueBook)
	s.handle("POST /bookLogs/return/{bookId}", s.returnBook)
	s.handle("GET /bookLogs", s.listLogs)
	s.handle("PATCH /bookLogs/{logId}", s.editLog)
	s.handle("DELETE /bookLogs/{logId}", s.deleteLog)

	s.handle("GET /health", s.health)
	s.mux.Handle("GET /metrics", s.routed("GET /metrics", s.metrics.Handler()))
}

// handle registers h and labels its requests with pattern for metrics.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.routed(pattern, h))
}

func (s *Server) routed(pattern string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := w.(*statusRecorder); ok {
			rec.route = pattern
		}
		h.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Metrics exposes the collectors, mainly for tests.
func (s *Server) Metrics() *Metrics { return s.metrics }

// observeQuery is the store hook. Business outcomes such as a missing row are
// not failures of the database.
func (s *Server) observeQuery(operation, table string, d time.Duration, err error) {
	failed := err != nil && statusFor(err) == 0 && !errors.Is(err, context.Canceled)
	s.metrics.RecordDBQuery(operation, table, d, failed)
	if !failed {
		err = nil
	}
	s.log.DBQueryLog(operation, table, d, err)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.lib.Ping(ctx); err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// setSessionCookie hands token to the browser.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	c := &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: s.opts.CookieSameSite,
	}
	if s.opts.SessionTTL > 0 {
		c.MaxAge = int(s.opts.SessionTTL.Seconds())
	}
	http.SetCookie(w, c)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: s.opts.CookieSameSite,
	})
}
