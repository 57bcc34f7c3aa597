package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Connect opens the database and pings it with exponential backoff until it
// answers or maxWait elapses.  SQLite is limited to a single connection so
// writers are serialised by database/sql instead of failing with SQLITE_BUSY.
func Connect(ctx context.Context, driver, dsn string, maxWait time.Duration) (*sql.DB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return conn.PingContext(pingCtx)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}
