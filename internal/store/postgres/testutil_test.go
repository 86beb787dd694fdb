package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations. Integration tests are skipped in -short mode.
func setupTestDB(t *testing.T) (*Client, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	client, err := New(ctx, ClientConfig{DSN: dsn, LockTimeout: 200 * time.Millisecond})
	require.NoError(t, err, "failed to create client")

	require.NoError(t, client.RunMigrations(ctx), "failed to run migrations")
	// Second run must be a no-op.
	require.NoError(t, client.RunMigrations(ctx))

	cleanup := func() {
		client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return client, cleanup
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}
