package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	authhttp "admissions/internal/http/auth"
	"admissions/internal/http/middleware/authgate"
	mwlogger "admissions/internal/http/middleware/logger"
	"admissions/internal/lib/api"
	"admissions/internal/lib/logger/sl"
	"admissions/internal/lib/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	BasePath string
	Auth     authhttp.Auth
	Gate     *authgate.Gate
	Options  authhttp.Options
	Health   Pinger
	Metrics  *metrics.Metrics
}

// NewRouter wires the service routes: health, metrics and the auth routes under BasePath.
func NewRouter(log *slog.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mwlogger.New(log, cfg.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(log, cfg.Health))
	r.Handle("/metrics", cfg.Metrics.Handler())

	base := cfg.BasePath
	if base == "" {
		base = "/auth"
	}
	opts := cfg.Options
	opts.BasePath = base
	r.Route(base, func(r chi.Router) {
		authhttp.Register(r, log, cfg.Auth, cfg.Gate, opts)
	})

	return r
}

func healthHandler(log *slog.Logger, store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := store.Ping(ctx); err != nil {
				log.Error("health check failed", sl.Err(err))
				api.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type App struct {
	logger *slog.Logger
	server *http.Server
	addr   string
}

type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

func New(logger *slog.Logger, addr string, handler http.Handler, timeouts Timeouts) *App {
	return &App{
		logger: logger,
		addr:   addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       timeouts.Read,
			ReadHeaderTimeout: timeouts.Read,
			WriteTimeout:      timeouts.Write,
			IdleTimeout:       timeouts.Idle,
		},
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

func (a *App) Serve(listener net.Listener) error {
	const op = "httpapp.Serve"

	log := a.logger.With(slog.String("op", op))
	log.Info("HTTP server is running", slog.String("address", listener.Addr().String()))

	if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"

	log := a.logger.With(slog.String("op", op))
	log.Info("stopping HTTP server", slog.String("address", a.addr))

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("failed to shut down HTTP server", sl.Err(err))
	}
}
