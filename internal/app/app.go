package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	grpcapp "admissions/internal/app/grpc"
	httpapp "admissions/internal/app/http"
	"admissions/internal/config"
	authhttp "admissions/internal/http/auth"
	"admissions/internal/http/middleware/authgate"
	"admissions/internal/jobs"
	"admissions/internal/lib/logger/sl"
	"admissions/internal/lib/metrics"
	"admissions/internal/lib/migrator"
	"admissions/internal/lib/password"
	"admissions/internal/services/auth"
	"admissions/internal/services/token"
	"admissions/internal/storage/memory"
	"admissions/internal/storage/mongodb"
	"admissions/internal/storage/postgres"
	"admissions/internal/storage/redis"
	"admissions/internal/storage/sqlite"
)

type App struct {
	HTTPSrv *httpapp.App
	GRPCSrv *grpcapp.App

	log     *slog.Logger
	health  pingers
	closers []func(ctx context.Context) error
	stopGC  context.CancelFunc
}

type userStore interface {
	auth.UserSaver
	auth.UserProvider
	auth.UserEditor
	Ping(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pingers reports the first failing dependency.
type pingers []pinger

func (p pingers) Ping(ctx context.Context) error {
	for _, dep := range p {
		if err := dep.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	a := &App{log: log}

	store, err := a.openStore(ctx, cfg.Storage)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	revocations, purger, err := a.openRevocations(ctx, cfg.Revocation, store)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := metrics.New()

	tokens, err := token.New(log, cfg.Tokens.Secret, revocations,
		token.WithIssuer(cfg.Tokens.Issuer),
		token.WithTTL(cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL),
	)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	authService := auth.New(log, store, store, store, tokens,
		password.NewHasher(cfg.Password.BcryptCost),
		auth.WithMetrics(m),
		auth.WithPageSize(cfg.PageSize),
	)

	gate := authgate.New(log, authService, authgate.Options{
		Mode:       cfg.Transport.Mode,
		CSRFHeader: cfg.Transport.CSRFHeader,
	}, m)

	router := httpapp.NewRouter(log, httpapp.RouterConfig{
		BasePath: cfg.HTTP.BasePath,
		Auth:     authService,
		Gate:     gate,
		Options: authhttp.Options{
			Mode:         cfg.Transport.Mode,
			CSRFHeader:   cfg.Transport.CSRFHeader,
			CookiePath:   cfg.Transport.AccessCookiePath,
			RefreshPath:  cfg.Transport.RefreshCookiePath,
			CookieDomain: cfg.Transport.CookieDomain,
			CookieSecure: cfg.Transport.CookieSecure,
			SameSite:     cfg.Transport.SameSiteMode(),
		},
		Health:  a.health,
		Metrics: m,
	})

	a.HTTPSrv = httpapp.New(log, cfg.HTTP.Address, router, httpapp.Timeouts{
		Read:  cfg.HTTP.ReadTimeout,
		Write: cfg.HTTP.WriteTimeout,
		Idle:  cfg.HTTP.IdleTimeout,
	})
	a.GRPCSrv = grpcapp.New(log, a.health, cfg.Grpc.Port, cfg.Grpc.HealthInterval)

	gcCtx, cancel := context.WithCancel(context.Background())
	a.stopGC = cancel
	jobs.StartRevocationGC(gcCtx, log, jobs.RevocationGCConfig{
		Interval:  cfg.Revocation.GCInterval,
		Retention: cfg.Revocation.Retention,
	}, purger, m)

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.StorageConfig) (userStore, error) {
	if cfg.AutoMigrate {
		if err := migrator.Up(cfg.Driver, cfg.DSN()); err != nil {
			return nil, err
		}
	}

	switch cfg.Driver {
	case migrator.DriverSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		a.health = append(a.health, s)
		return s, nil
	case migrator.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		a.health = append(a.health, s)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", migrator.ErrUnknownDriver, cfg.Driver)
	}
}

// openRevocations returns the revocation backend and, when the backend does
// not expire records on its own, the purger the GC job should drive.
func (a *App) openRevocations(ctx context.Context, cfg config.RevocationConfig, store userStore) (token.Revocations, jobs.Purger, error) {
	switch cfg.Backend {
	case "storage":
		r, ok := store.(interface {
			token.Revocations
			jobs.Purger
		})
		if !ok {
			return nil, nil, errors.New("storage does not keep revocations")
		}
		return r, r, nil
	case "memory":
		r := memory.New()
		return r, r, nil
	case "redis":
		r, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Retention)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return r.Close() })
		a.health = append(a.health, r)
		return r, nil, nil
	case "mongodb":
		r, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Retention)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, r.Close)
		a.health = append(a.health, r)
		return r, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown revocation backend %q", cfg.Backend)
	}
}

// Stop shuts the servers down and then releases the backends.
func (a *App) Stop(ctx context.Context) {
	a.HTTPSrv.Stop(ctx)
	a.GRPCSrv.Stop()
	a.close(ctx)
}

func (a *App) close(ctx context.Context) {
	if a.stopGC != nil {
		a.stopGC()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Error("failed to close backend", sl.Err(err))
		}
	}
	a.closers = nil
}
