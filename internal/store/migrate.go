package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/park285/matka-round-server/internal/obslog"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the bundled schema files.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies every numbered *.sql file newer than the recorded schema version, each in its
// own transaction.
func Migrate(ctx context.Context, db *sql.DB, d Dialect, migrationsFS fs.FS) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	entries, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)

	for _, name := range entries {
		version, err := ParseMigrationVersion(name)
		if err != nil {
			obslog.L().Warn("skip_invalid_migration", zap.String("file", name), zap.Error(err))
			continue
		}
		if version <= current {
			continue
		}

		sqlBytes, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", version, err)
		}

		obslog.L().Info("schema_migrate", zap.Int("version", version), zap.String("dialect", string(d)))
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, d.rebind(`INSERT INTO schema_version (version) VALUES (?)`), version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// ParseMigrationVersion extracts the numeric prefix of a file named like 001_init.sql.
func ParseMigrationVersion(filename string) (int, error) {
	base := filename
	if idx := strings.LastIndex(filename, "/"); idx >= 0 {
		base = filename[idx+1:]
	}
	if !strings.HasSuffix(base, ".sql") {
		return 0, fmt.Errorf("migration %q: invalid extension", base)
	}

	name := strings.TrimSuffix(base, ".sql")
	parts := strings.SplitN(name, "_", 2)
	if parts[0] == "" {
		return 0, fmt.Errorf("migration %q: missing version prefix", base)
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("migration %q: invalid version number", base)
	}
	return version, nil
}
