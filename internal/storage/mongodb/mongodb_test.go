package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestIsDuplicateKeyError(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
	other := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 121}}}

	assert.True(t, isDuplicateKeyError(dup))
	assert.True(t, isDuplicateKeyError(fmt.Errorf("insert: %w", dup)))
	assert.False(t, isDuplicateKeyError(other))
	assert.False(t, isDuplicateKeyError(errors.New("boom")))
}

func TestRevocations(t *testing.T) {
	uri := os.Getenv("ADMISSIONS_TEST_MONGO")
	if uri == "" {
		t.Skip("ADMISSIONS_TEST_MONGO not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := New(ctx, uri, "admissions_test", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	jti := gofakeit.UUID()

	inserted, err := r.Revoke(ctx, jti, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.Revoke(ctx, jti, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)

	revoked, err := r.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = r.IsRevoked(ctx, gofakeit.UUID())
	require.NoError(t, err)
	assert.False(t, revoked)
}
