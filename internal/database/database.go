package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/config"
)

// Connections bundles the writer and reader pools. Reader equals Writer when no
// replica DSN is configured.
type Connections struct {
	Writer *bun.DB
	Reader *bun.DB
}

const defaultSlowQuery = 250 * time.Millisecond

// InTx runs fn inside a write transaction, committing when fn returns nil.
func (c *Connections) InTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return c.Writer.RunInTx(ctx, nil, fn)
}

// Ping checks both pools.
func (c *Connections) Ping(ctx context.Context) error {
	if err := pingContext(ctx, c.Writer); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if c.Reader != c.Writer {
		if err := pingContext(ctx, c.Reader); err != nil {
			return fmt.Errorf("ping reader: %w", err)
		}
	}
	return nil
}

// Close releases both pools.
func (c *Connections) Close() error {
	var closeErr error
	if err := c.Writer.Close(); err != nil {
		closeErr = fmt.Errorf("close writer: %w", err)
	}
	if c.Reader != c.Writer {
		if err := c.Reader.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("close reader: %w", err)
		}
	}
	return closeErr
}

// Module registers the database connections with Fx.
var Module = fx.Provide(New)

// New opens the configured pools and ties them to the Fx lifecycle.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	conns, err := Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conns.Ping(ctx); err != nil {
				return err
			}
			logger.Info("database connected",
				zap.String("driver", cfg.Database.Driver),
				zap.Bool("replica", conns.Reader != conns.Writer))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return conns.Close()
		},
	})

	return conns, nil
}

// Open establishes writer and reader pools backed by Bun without pinging them.
func Open(cfg config.Database, logger *zap.Logger) (*Connections, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dial, err := selectDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	slow := cfg.SlowQuery
	if slow <= 0 {
		slow = defaultSlowQuery
	}

	writer, err := openDB(cfg, cfg.WriterDSN, dial)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.AddQueryHook(newQueryLogger(logger, slow))

	reader := writer
	if cfg.ReaderDSN != "" && cfg.ReaderDSN != cfg.WriterDSN {
		if reader, err = openDB(cfg, cfg.ReaderDSN, dial); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("open reader: %w", err)
		}
		reader.AddQueryHook(newQueryLogger(logger, slow))
	}

	return &Connections{Writer: writer, Reader: reader}, nil
}

func openDB(cfg config.Database, dsn string, dial schema.Dialect) (*bun.DB, error) {
	sqldb, err := openSQLDB(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	applyPoolSettings(sqldb, cfg)
	if cfg.Driver == "sqlite" && (strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")) {
		// each connection would otherwise see its own empty database
		sqldb.SetMaxOpenConns(1)
	}
	return bun.NewDB(sqldb, dial), nil
}

func selectDialect(driver string) (schema.Dialect, error) {
	switch driver {
	case "postgres":
		return pgdialect.New(), nil
	case "mysql", "mariadb":
		return mysqldialect.New(), nil
	case "sqlite":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func openSQLDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	switch driver {
	case "postgres":
		connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
		return sql.OpenDB(connector), nil
	case "mysql", "mariadb":
		return sql.Open("mysql", dsn)
	case "sqlite":
		return sql.Open(sqliteshim.ShimName, dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

func pingContext(ctx context.Context, db *bun.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.DB.PingContext(pingCtx)
}
