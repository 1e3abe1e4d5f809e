package grpcapp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	healthgrpc "admissions/internal/grpc/health"

	"google.golang.org/grpc"
)

type App struct {
	logger     *slog.Logger
	gRPCServer *grpc.Server
	health     *healthgrpc.Checker
	port       int
	interval   time.Duration
	probeCtx   context.Context
	cancel     context.CancelFunc
}

func New(
	logger *slog.Logger,
	store healthgrpc.Pinger,
	port int,
	checkInterval time.Duration,
) *App {
	gRPCServer := grpc.NewServer()
	checker := healthgrpc.Register(gRPCServer, logger, store)

	if checkInterval <= 0 {
		checkInterval = 15 * time.Second
	}

	probeCtx, cancel := context.WithCancel(context.Background())

	return &App{
		logger:     logger,
		gRPCServer: gRPCServer,
		health:     checker,
		port:       port,
		interval:   checkInterval,
		probeCtx:   probeCtx,
		cancel:     cancel,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "grpcapp.Run"

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

// Serve runs the health probe loop and blocks serving gRPC on listener.
func (a *App) Serve(listener net.Listener) error {
	const op = "grpcapp.Serve"

	log := a.logger.With(
		slog.String("op", op),
		slog.Int("port", a.port),
	)

	go a.health.Run(a.probeCtx, a.interval)

	log.Info("gRPC server is running", slog.String("address", listener.Addr().String()))

	if err := a.gRPCServer.Serve(listener); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop() {
	const op = "grpcapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping gRPC server", slog.Int("port", a.port))

	a.cancel()
	a.health.Shutdown()
	a.gRPCServer.GracefulStop()
}
