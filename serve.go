package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/config"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/logging"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/server"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log.Info("starting library service", "config", cfg.String())

	mgr, err := openLibrary(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if a := cfg.Auth.Admin; a.Enabled() {
		u, created, err := mgr.Users.EnsureAdmin(ctx, library.NewUser{
			Username: a.Username,
			Email:    a.Email,
			Password: a.Password,
		})
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		log.Info("admin account ready", "username", u.Username, "created", created)
	}

	sessions, err := openSessions(ctx, cfg, mgr, log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	api := server.New(mgr, sessions, log.WithComponent("http"), server.Options{
		AllowedOrigin:  cfg.Server.AllowedOrigin,
		CookieName:     cfg.Server.Cookie.Name,
		CookieSecure:   cfg.Server.Cookie.Secure,
		CookieSameSite: sameSite(cfg.Server.Cookie.SameSite),
		SessionTTL:     cfg.Session.TTL,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

// openSessions builds the configured session store. The SQL store shares the
// library database and drops expired rows on start.
func openSessions(ctx context.Context, cfg *config.Config, mgr *library.Manager, log *logging.Logger) (session.Store, error) {
	if cfg.Session.Store == config.SessionStoreRedis {
		store, err := session.NewRedisStoreFromURL(cfg.Session.RedisURL, cfg.Session.TTL)
		if err != nil {
			return nil, fmt.Errorf("open redis sessions: %w", err)
		}
		return store, nil
	}

	store, err := session.NewSQLStore(mgr.DB(), mgr.Dialect(), cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("open sql sessions: %w", err)
	}
	if n, err := store.PurgeExpired(ctx); err != nil {
		log.WithError(err).Warn("purge expired sessions")
	} else if n > 0 {
		log.Info("purged expired sessions", "count", n)
	}
	return store, nil
}

func sameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
