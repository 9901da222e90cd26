// Package dbtest opens migrated in-memory sqlite databases for repository tests.
package dbtest

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/database"
	"github.com/satguru/tiffin/internal/migration"
)

// Open returns connections to a fresh sqlite database named after the test, with every
// migration applied. The database is dropped when the test ends.
func Open(t testing.TB) *database.Connections {
	t.Helper()
	logger := zaptest.NewLogger(t)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conns, err := database.Open(config.Database{
		Driver:    "sqlite",
		WriterDSN: "file:" + name + "?mode=memory&cache=shared",
	}, logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conns.Close() })

	mig, err := migration.New("sqlite", conns.Writer.DB, logger)
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if err := mig.Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conns
}
