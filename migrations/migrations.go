// Package migrations embeds the PostgreSQL schema and applies it in file order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed *.sql
var files embed.FS

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Names lists the embedded migration files in apply order.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration that has not been recorded in schema_migrations.
func Apply(ctx context.Context, db Execer, applied func(ctx context.Context, name string) (bool, error)) ([]string, error) {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, fmt.Errorf("migrations: bootstrap: %w", err)
	}
	names, err := Names()
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, name := range names {
		done, err := applied(ctx, name)
		if err != nil {
			return ran, err
		}
		if done {
			continue
		}
		body, err := files.ReadFile(name)
		if err != nil {
			return ran, err
		}
		if _, err := db.Exec(ctx, string(body)); err != nil {
			return ran, fmt.Errorf("migrations: %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return ran, err
		}
		ran = append(ran, name)
	}
	return ran, nil
}
