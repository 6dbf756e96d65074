//go:build integration

package nonce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresStore starts a PostgreSQL container and returns a migrated store
func setupPostgresStore(t *testing.T) (*SQLStore, func()) {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("idsite_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := OpenDB(ctx, DialectPostgres, connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(20)

	store, err := NewSQLStore(db, DialectPostgres, time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	cleanup := func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}
	return store, cleanup
}

func TestPostgresStore_Integration(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("put once", func(t *testing.T) {
		stored, err := store.PutIfAbsent(ctx, "once")
		require.NoError(t, err)
		assert.True(t, stored)

		stored, err = store.PutIfAbsent(ctx, "once")
		require.NoError(t, err)
		assert.False(t, stored)
	})

	t.Run("concurrent put has one winner", func(t *testing.T) {
		const workers = 20
		var wins int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				stored, err := store.PutIfAbsent(ctx, "contended")
				assert.NoError(t, err)
				if stored {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("purge removes expired rows", func(t *testing.T) {
		now := time.Now()
		store.now = func() time.Time { return now }
		stored, err := store.PutIfAbsent(ctx, "old")
		require.NoError(t, err)
		require.True(t, stored)

		now = now.Add(2 * time.Minute)
		purged, err := store.Purge(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, int64(1))

		has, err := store.Has(ctx, "old")
		require.NoError(t, err)
		assert.False(t, has)
	})
}
