// Package health serves grpc.health.v1.Health backed by a store ping.
package health

import (
	"context"
	"log/slog"
	"time"

	"admissions/internal/lib/logger/sl"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "admissions.auth"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Checker struct {
	log     *slog.Logger
	server  *health.Server
	pinger  Pinger
	timeout time.Duration
}

// Register attaches the health service to gRPC. Status starts as NOT_SERVING
// until the first successful Check.
func Register(gRPC *grpc.Server, log *slog.Logger, pinger Pinger) *Checker {
	srv := health.NewServer()
	healthpb.RegisterHealthServer(gRPC, srv)

	c := &Checker{
		log:     log.With(slog.String("component", "grpc/health")),
		server:  srv,
		pinger:  pinger,
		timeout: 2 * time.Second,
	}
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)

	return c
}

// Check pings the store once and publishes the result.
func (c *Checker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.pinger.Ping(ctx); err != nil {
		c.log.Warn("store ping failed", sl.Err(err))
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}

	c.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run checks every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to all watchers and ignores later updates.
func (c *Checker) Shutdown() {
	c.server.Shutdown()
}

func (c *Checker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}
