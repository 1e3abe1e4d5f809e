package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"admissions/internal/lib/logger/handlers/slogdiscard"
	"admissions/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPurger struct{}

func (failingPurger) PurgeRevoked(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestPurgeOnce(t *testing.T) {
	ctx := context.Background()
	log := slogdiscard.NewDiscardLogger()
	store := memory.New()

	_, err := store.Revoke(ctx, "old", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = store.Revoke(ctx, "recent", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = store.Revoke(ctx, "live", time.Now().Add(time.Hour))
	require.NoError(t, err)

	purged := PurgeOnce(ctx, log, time.Hour, time.Second, store, nil)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 2, store.Len())

	assert.Zero(t, PurgeOnce(ctx, log, 0, time.Second, failingPurger{}, nil))
}

func TestStartRevocationGC(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	_, err := store.Revoke(ctx, "old", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	StartRevocationGC(ctx, slogdiscard.NewDiscardLogger(), RevocationGCConfig{Interval: 5 * time.Millisecond}, store, nil)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStartRevocationGC_NilPurger(t *testing.T) {
	assert.NotPanics(t, func() {
		StartRevocationGC(context.Background(), slogdiscard.NewDiscardLogger(), RevocationGCConfig{}, nil, nil)
	})
}
