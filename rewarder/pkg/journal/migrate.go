package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// MigrateUp runs all pending migrations.
func MigrateUp(ctx context.Context, log *slog.Logger, connStr string) error {
	return withMigrations(ctx, connStr, func(db *sql.DB) error {
		log.Info("journal: running migrations (up)")
		if err := goose.UpContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("journal: migrations completed")
		return nil
	})
}

// MigrateDown rolls back the last migration.
func MigrateDown(ctx context.Context, log *slog.Logger, connStr string) error {
	return withMigrations(ctx, connStr, func(db *sql.DB) error {
		log.Info("journal: rolling back migration (down)")
		if err := goose.DownContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		log.Info("journal: migration rollback completed")
		return nil
	})
}

// MigrateStatus logs the status of all migrations.
func MigrateStatus(ctx context.Context, log *slog.Logger, connStr string) error {
	return withMigrations(ctx, connStr, func(db *sql.DB) error {
		log.Info("journal: migration status")
		if err := goose.StatusContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		return nil
	})
}

func withMigrations(ctx context.Context, connStr string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
