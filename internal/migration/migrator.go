package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/db/migrations"
	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/database"
)

// Module provides the migrator to commands that need it.
var Module = fx.Provide(NewMigrator)

// Migrator applies the embedded schema for the configured dialect.
type Migrator struct {
	provider *goose.Provider
	logger   *zap.Logger
}

// Params defines dependencies for the migrator.
type Params struct {
	fx.In

	Config      config.Config
	Connections *database.Connections
	Logger      *zap.Logger
}

// NewMigrator wires a Migrator against the writer pool.
func NewMigrator(p Params) (*Migrator, error) {
	return New(p.Config.Database.Driver, p.Connections.Writer.DB, p.Logger)
}

// New builds a Migrator for driver over db.
func New(driver string, db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialect, dir, err := gooseDialect(driver)
	if err != nil {
		return nil, err
	}
	fsys, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, err
	}
	return &Migrator{provider: provider, logger: logger.Named("migrate")}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	m.report(results)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		m.logger.Info("no migrations to apply")
	}
	return nil
}

// Down rolls back migrations. Steps <=0 defaults to 1; all=true rolls everything back.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if all {
		results, err := m.provider.DownTo(ctx, 0)
		m.report(results)
		return err
	}
	if steps <= 0 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		result, err := m.provider.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			m.logger.Info("no migrations to rollback")
			return nil
		}
		if err != nil {
			return err
		}
		m.report([]*goose.MigrationResult{result})
	}
	return nil
}

// Status describes the schema state.
type Status struct {
	Current int64
	Latest  int64
	Pending []int64
}

// Status reports the applied version and any migrations not yet applied.
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, err
	}
	states, err := m.provider.Status(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Current: current}
	for _, s := range states {
		if s.Source.Version > st.Latest {
			st.Latest = s.Source.Version
		}
		if s.State == goose.StatePending {
			st.Pending = append(st.Pending, s.Source.Version)
		}
	}
	return st, nil
}

func (m *Migrator) report(results []*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		m.logger.Info("migration "+r.Direction,
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration.Round(time.Millisecond)))
	}
}

func gooseDialect(driver string) (goose.Dialect, string, error) {
	switch driver {
	case "postgres", "pg":
		return goose.DialectPostgres, "postgres", nil
	case "mysql", "mariadb":
		return goose.DialectMySQL, "mysql", nil
	case "sqlite", "sqlite3":
		return goose.DialectSQLite3, "sqlite3", nil
	default:
		return "", "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}
