package migration

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/database"
)

func TestSQLiteUpStatusDown(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	conns, err := database.Open(config.Database{Driver: "sqlite", WriterDSN: "file::memory:?cache=shared"}, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conns.Close()

	mig, err := New("sqlite", conns.Writer.DB, logger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	st, err := mig.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Current != 0 || len(st.Pending) == 0 || st.Latest == 0 {
		t.Fatalf("fresh status = %+v", st)
	}

	if err := mig.Up(ctx); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mig.Up(ctx); err != nil {
		t.Fatalf("second up should be a no-op: %v", err)
	}
	st, err = mig.Status(ctx)
	if err != nil || st.Current != st.Latest || len(st.Pending) != 0 {
		t.Fatalf("migrated status = %+v, %v", st, err)
	}
	if _, err := conns.Writer.ExecContext(ctx, "INSERT INTO settings (key, value) VALUES ('api_key', 'x')"); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}

	if err := mig.Down(ctx, 0, true); err != nil {
		t.Fatalf("down all: %v", err)
	}
	if err := mig.Down(ctx, 1, false); err != nil {
		t.Fatalf("down on empty schema: %v", err)
	}
}

func TestUnsupportedDialect(t *testing.T) {
	if _, err := New("oracle", nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
