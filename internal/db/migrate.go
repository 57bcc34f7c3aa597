package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "embed"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// Migrate applies the database schema for the given driver. The statements
// create tables and indexes only if they do not already exist.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var schema string
	switch driver {
	case DriverPostgres:
		schema = postgresSchemaSQL
	case DriverSQLite:
		schema = sqliteSchemaSQL
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}
