package database

import (
	"context"
	stdsql "database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestDB opens a migrated PostgreSQL connection with CI/local detection.
// In CI (CI_DATABASE_URL set) it connects to the external service container;
// locally it spins up a testcontainer.
func newTestDB(t *testing.T) *stdsql.DB {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db, "test"))
	return db
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := newTestDB(t)

	// A second run must be a no-op, not an error.
	require.NoError(t, RunMigrations(db, "test"))

	// The schema is in place.
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHealth(t *testing.T) {
	db := newTestDB(t)

	health, err := Health(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 10, health.MaxOpenConns)
	assert.GreaterOrEqual(t, health.ResponseTime, int64(0))
	assert.Less(t, health.ResponseTime, int64(1000), "local ping should be fast")
}

func TestHealthUnreachable(t *testing.T) {
	db, err := stdsql.Open("pgx", "host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health, err := Health(ctx, db)
	require.Error(t, err)
	assert.Equal(t, "unhealthy", health.Status)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.example.com",
		Port:     5433,
		User:     "scribed",
		Password: "secret",
		Database: "scribed",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.example.com port=5433 user=scribed password=secret dbname=scribed sslmode=require",
		cfg.DSN())
}

func TestLoadConfigFromEnv(t *testing.T) {
	envKeys := []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
	}
	reset := func() {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
	}
	t.Cleanup(reset)

	t.Run("defaults", func(t *testing.T) {
		reset()

		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "scribed", cfg.User)
		assert.Equal(t, "scribed", cfg.Database)
		assert.Equal(t, "disable", cfg.SSLMode)
		assert.Equal(t, 10, cfg.MaxOpenConns)
		assert.Equal(t, 5, cfg.MaxIdleConns)
	})

	t.Run("custom values", func(t *testing.T) {
		reset()
		os.Setenv("DB_HOST", "db.example.com")
		os.Setenv("DB_PORT", "5433")
		os.Setenv("DB_MAX_OPEN_CONNS", "50")

		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "db.example.com", cfg.Host)
		assert.Equal(t, 5433, cfg.Port)
		assert.Equal(t, 50, cfg.MaxOpenConns)
	})

	t.Run("invalid port", func(t *testing.T) {
		reset()
		os.Setenv("DB_PORT", "not_a_number")

		_, err := LoadConfigFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid DB_PORT")
	})
}
