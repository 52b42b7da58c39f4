package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// OpenPostgres opens a bun handle against the production postgres deployment.
// Callers own the returned handle and close it on shutdown.
func OpenPostgres(dsn string) (*bun.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}
