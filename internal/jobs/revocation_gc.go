package jobs

import (
	"context"
	"log/slog"
	"time"

	"admissions/internal/lib/logger/sl"
	"admissions/internal/lib/metrics"
)

// Purger drops revocation records of tokens that expired before the given instant.
type Purger interface {
	PurgeRevoked(ctx context.Context, before time.Time) (int64, error)
}

type RevocationGCConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// Retention keeps records this long past token expiry.
	Retention time.Duration
}

// StartRevocationGC purges expired revocation records every Interval until ctx is done.
func StartRevocationGC(ctx context.Context, log *slog.Logger, cfg RevocationGCConfig, purger Purger, m *metrics.Metrics) {
	if purger == nil {
		log.Info("revocation gc disabled: backend expires records itself")
		return
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	log = log.With(slog.String("job", "revocation_gc"))

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				PurgeOnce(ctx, log, cfg.Retention, timeout, purger, m)
			}
		}
	}()
}

func PurgeOnce(ctx context.Context, log *slog.Logger, retention, timeout time.Duration, purger Purger, m *metrics.Metrics) int64 {
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	purged, err := purger.PurgeRevoked(tickCtx, time.Now().Add(-retention))
	if err != nil {
		log.Error("revocation gc failed", sl.Err(err))
		return 0
	}
	if purged > 0 {
		log.Info("revocation gc purged records", slog.Int64("count", purged))
	}
	m.RevocationsPurged(purged)

	return purged
}
