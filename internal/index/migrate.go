package index

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// Migrate applies the embedded migrations for dialect. GOOSE_DOWN_TO and
// GOOSE_UP_TO select a target version; the default is the latest.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var dir string
	switch dialect {
	case goose.DialectSQLite3:
		dir = "migrations/sqlite"
	case goose.DialectPostgres:
		dir = "migrations/postgres"
	default:
		return fmt.Errorf("index: unsupported migration dialect %q", dialect)
	}
	fsys, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("index: create migration provider: %w", err)
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("index: read schema version: %w", err)
	}
	for _, src := range provider.ListSources() {
		logger.Debug("migration embedded", "dialect", dialect, "version", src.Version,
			"path", src.Path, "applied", src.Version <= current)
	}

	if down, ok := os.LookupEnv("GOOSE_DOWN_TO"); ok {
		target, err := strconv.ParseInt(down, 10, 64)
		if err != nil {
			return fmt.Errorf("index: parse GOOSE_DOWN_TO: %w", err)
		}
		results, err := provider.DownTo(ctx, target)
		logResults(logger, results)
		return err
	}

	target := int64(goose.MaxVersion)
	if up, ok := os.LookupEnv("GOOSE_UP_TO"); ok {
		target, err = strconv.ParseInt(up, 10, 64)
		if err != nil {
			return fmt.Errorf("index: parse GOOSE_UP_TO: %w", err)
		}
	}
	results, err := provider.UpTo(ctx, target)
	logResults(logger, results)
	if err != nil {
		return fmt.Errorf("index: migrate: %w", err)
	}
	return nil
}

func logResults(logger *slog.Logger, results []*goose.MigrationResult) {
	for _, r := range results {
		if r.Error != nil {
			logger.Error("migration failed", "version", r.Source.Version, "direction", r.Direction, "error", r.Error)
			continue
		}
		logger.Info("migration applied", "version", r.Source.Version, "direction", r.Direction,
			"duration", r.Duration)
	}
}
