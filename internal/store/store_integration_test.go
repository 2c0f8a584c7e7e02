package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shayancanonical/mysql-test-app/internal/mysqltest"
	"github.com/shayancanonical/mysql-test-app/internal/relation"
	"github.com/shayancanonical/mysql-test-app/internal/store"
)

func TestStoreRoundTrip(t *testing.T) {
	srv := mysqltest.StartT(t)
	cfg, err := srv.CreateDatabase()
	require.NoError(t, err)
	ctx := context.Background()

	st, err := store.Open(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.EnsureSchema(ctx))
	// Idempotent: a second call leaves the schema untouched.
	require.NoError(t, st.EnsureSchema(ctx))

	max, err := st.MaxNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, max, "empty table must report 0")

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, st.Insert(ctx, i))
	}

	max, err = st.MaxNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), max)

	count, err := st.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, st.InsertRandomValue(ctx, "abcdef0123"))

	require.NoError(t, st.Clear(ctx))
	count, err = st.CountRows(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close(), "closing twice must be a no-op")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	var invalid *relation.InvalidConfigError
	_, err := store.Open(context.Background(), relation.Config{Host: "h"})
	require.ErrorAs(t, err, &invalid)
}

func TestOpenUnreachableEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := store.Open(ctx, relation.Config{
		Host:     "127.0.0.1",
		Port:     "1", // nothing listens here
		Username: "u",
		Password: "p",
		Database: "d",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
