// Package health provides readiness checks for the feed service's
// dependencies.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/foryou/internal/tracing"
)

// ErrMissingTable is returned when a required table has not been migrated.
var ErrMissingTable = errors.New("required table missing")

// FeedTables are the tables the feed service reads or writes.
var FeedTables = []string{
	"candidates",
	"follows",
	"interactions",
	"weight_profiles",
	"exposures",
}

// DBChecker checks database connectivity and, optionally, that the schema
// has been migrated.
type DBChecker struct {
	db     *sql.DB
	tables []string
}

// NewDBChecker creates a database checker that requires each of tables to
// exist.
func NewDBChecker(db *sql.DB, tables ...string) *DBChecker {
	return &DBChecker{db: db, tables: tables}
}

// HealthCheck pings the database and looks up each required table.
func (d *DBChecker) HealthCheck(ctx context.Context) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "pg_catalog", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, table := range d.tables {
		var name sql.NullString
		if err := d.db.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, table).Scan(&name); err != nil {
			return fmt.Errorf("lookup %s: %w", table, err)
		}
		if !name.Valid {
			return fmt.Errorf("%w: %s", ErrMissingTable, table)
		}
	}
	return nil
}
