package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	dispatch "github.com/goliatone/go-dispatch"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	sourceLabel   = "go-dispatch"
	migrationsDir = "data/sql/migrations"
)

// FilesystemSpec pairs one dialect with its migration files.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Registration reports what was handed to the persistence layer.
type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

// RegisterFunc receives one dialect's migration filesystem, typically
// persistence.Client.RegisterSQLMigrations.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

// WithValidationTargets narrows registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			trimmed := strings.TrimSpace(strings.ToLower(target))
			if trimmed != "" {
				next = append(next, trimmed)
			}
		}
		if len(next) > 0 {
			r.ValidationTargets = dedupe(next)
		}
	}
}

// Filesystems splits the embedded migration tree into the postgres root and
// the sqlite alternative nested under it. Both must carry at least one
// *.up.sql file.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := dispatch.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s not found: %w", migrationsDir, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: migrationsDir, FS: base},
		{Dialect: DialectSQLite, Path: migrationsDir + "/sqlite", FS: sqliteFS},
	}
	for _, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", fsys.Dialect, fsys.Path)
		}
	}
	return filesystems, nil
}

// Register hands each selected dialect's migration filesystem to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       sourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&reg)
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	for _, fsys := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, fsys.Dialect) {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, reg.SourceLabel, fsys.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
	}
	return reg, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
