// Package migrate applies the goose migrations under db/migrations.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const commandTimeout = time.Minute

// Runner applies and inspects schema migrations.
type Runner struct {
	db       *sql.DB
	provider *goose.Provider
	dir      string
	logger   *slog.Logger
}

// New opens a database/sql handle over pgx and builds a goose provider for dir.
func New(dsn, dir string, logger *slog.Logger) (*Runner, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	if dir == "" {
		return nil, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("locate migrations dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(dir))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Runner{db: db, provider: provider, dir: dir, logger: logger}, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	r.logger.Info("applying migrations", "dir", r.dir)
	results, err := r.provider.Up(ctx)
	r.logResults(results)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	r.logger.Info("migrations applied", "count", len(results))
	return nil
}

// Status logs applied and pending migrations and returns them.
func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	for _, st := range statuses {
		fields := []any{"version", st.Source.Version, "path", st.Source.Path, "state", string(st.State)}
		if !st.AppliedAt.IsZero() {
			fields = append(fields, "applied_at", st.AppliedAt)
		}
		r.logger.Info("migration", fields...)
	}
	return statuses, nil
}

// Down rolls back the latest migration, or every migration above target
// when target is positive.
func (r *Runner) Down(ctx context.Context, target int64) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if target > 0 {
		r.logger.Info("rolling back migrations", "target", target)
		results, err := r.provider.DownTo(ctx, target)
		r.logResults(results)
		if err != nil {
			return fmt.Errorf("rollback to version %d: %w", target, err)
		}
		return nil
	}
	r.logger.Info("rolling back latest migration")
	result, err := r.provider.Down(ctx)
	if result != nil {
		r.logResults([]*goose.MigrationResult{result})
	}
	if err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}

// Close releases the provider and its connection.
func (r *Runner) Close() error {
	return r.provider.Close()
}

func (r *Runner) logResults(results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		fields := []any{"version", res.Source.Version, "direction", res.Direction, "duration_ms", res.Duration.Milliseconds()}
		if res.Error != nil {
			r.logger.Error("migration failed", append(fields, "error", res.Error)...)
			continue
		}
		r.logger.Info("migration applied", fields...)
	}
}
