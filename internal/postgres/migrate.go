package postgres

import (
	"context"
	"embed"
	"fmt"
	"io"
	"sort"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name       VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`

// Migrate applies the embedded migrations that were not applied yet, each in
// its own transaction. With dryRun the SQL is written to w instead.
func (db *DB) Migrate(ctx context.Context, dryRun bool, w io.Writer) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if !dryRun {
		if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
			return fmt.Errorf("failed to create schema_migrations: %w", err)
		}
	}

	for _, name := range names {
		body, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Fprintf(w, "-- %s\n%s\n", name, body)
			continue
		}

		err = db.WithTx(ctx, func(ctx context.Context) error {
			q := db.GetQuerier(ctx)

			var applied bool
			if err := q.GetContext(ctx, &applied,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name); err != nil {
				return err
			}
			if applied {
				return nil
			}

			db.logger.Infow("applying migration", "name", name)
			if _, err := q.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
			_, err := q.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
