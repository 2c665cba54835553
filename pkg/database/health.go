package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus is the database section of the /health response: liveness of
// the connection plus pool pressure counters from database/sql.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`

	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDuration    int64 `json:"wait_duration_ms"`
	MaxOpenConns    int   `json:"max_open_conns"`
}

// Health runs a round-trip query against the database and reports pool
// statistics. On failure the returned status is still populated so the
// handler can render it alongside the error.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	var one int
	if err := db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}
	elapsed := time.Since(start).Milliseconds()

	stats := db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    elapsed,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration.Milliseconds(),
		MaxOpenConns:    stats.MaxOpenConnections,
	}, nil
}
