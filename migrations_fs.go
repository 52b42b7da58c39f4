package dispatch

import (
	"embed"
	"io/fs"
)

// migrationsFS embeds the dispatch schema migrations. Postgres files sit at
// the tree root, sqlite alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS exposes the embedded migration tree so callers can hand it
// to their own migration runner.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
