package admin

import (
	"context"
	"log/slog"

	"github.com/airvault/airdrop/rewarder/pkg/journal"
)

// PgMigrateUp runs all pending settlement journal migrations.
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg journal.PostgresConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info("running PostgreSQL migrations (up)", "postgres", cfg.String())
	return journal.MigrateUp(ctx, log, cfg.ConnString())
}

// PgMigrateDown rolls back the last settlement journal migration.
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg journal.PostgresConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info("rolling back PostgreSQL migration (down)", "postgres", cfg.String())
	return journal.MigrateDown(ctx, log, cfg.ConnString())
}

// PgMigrateStatus shows the status of all settlement journal migrations.
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg journal.PostgresConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return journal.MigrateStatus(ctx, log, cfg.ConnString())
}
