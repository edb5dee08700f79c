// Package migrate applies the embedded schema migrations with golang-migrate.
package migrate

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var migrations embed.FS

// Source returns the embedded migration source.
func Source() (source.Driver, error) {
	d, err := iofs.New(migrations, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrate: open embedded source: %w", err)
	}
	return d, nil
}

// DatabaseURL rewrites a postgres DSN to the pgx/v5 driver scheme.
func DatabaseURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// Runner wraps a migrate instance bound to the embedded source.
type Runner struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// New opens a runner against dsn.
func New(dsn string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src, err := Source()
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, DatabaseURL(dsn))
	if err != nil {
		return nil, fmt.Errorf("migrate: init: %w", err)
	}
	return &Runner{m: m, logger: logger}, nil
}

// Up applies all pending migrations. No pending change is not an error.
func (r *Runner) Up() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	r.logVersion("migrations applied")
	return nil
}

// Down rolls back steps migrations.
func (r *Runner) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	if err := r.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: down %d: %w", steps, err)
	}
	r.logVersion("migrations rolled back")
	return nil
}

// Version reports the current schema version.
func (r *Runner) Version() (uint, bool, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the source and database handles.
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

func (r *Runner) logVersion(msg string) {
	v, dirty, err := r.Version()
	if err != nil {
		r.logger.Warn("read schema version", slog.Any("error", err))
		return
	}
	r.logger.Info(msg, slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty))
}
