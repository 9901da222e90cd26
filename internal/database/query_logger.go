package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// queryLogger reports failed and slow queries.
type queryLogger struct {
	logger    *zap.Logger
	threshold time.Duration
}

func newQueryLogger(logger *zap.Logger, threshold time.Duration) *queryLogger {
	return &queryLogger{logger: logger.Named("db"), threshold: threshold}
}

func (h *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.logger.Warn("query failed",
			zap.String("operation", event.Operation()),
			zap.Duration("duration", elapsed),
			zap.Error(event.Err),
		)
	case elapsed >= h.threshold:
		h.logger.Info("slow query",
			zap.String("operation", event.Operation()),
			zap.Duration("duration", elapsed),
			zap.String("query", event.Query),
		)
	}
}
