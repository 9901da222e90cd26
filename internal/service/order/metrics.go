package order

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var serviceMeter = otel.Meter("github.com/satguru/tiffin/service/order")

type metrics struct {
	paused  metric.Int64Counter
	resumed metric.Int64Counter
}

func newMetrics(logger *zap.Logger) *metrics {
	m := &metrics{}
	var err error
	if m.paused, err = serviceMeter.Int64Counter("tiffin.orders.paused",
		metric.WithDescription("Orders moved into the paused state")); err != nil {
		logger.Warn("create paused counter", zap.Error(err))
	}
	if m.resumed, err = serviceMeter.Int64Counter("tiffin.orders.resumed",
		metric.WithDescription("Paused orders returned to processing")); err != nil {
		logger.Warn("create resumed counter", zap.Error(err))
	}
	return m
}

func (m *metrics) recordPaused(ctx context.Context, trigger string) {
	if m.paused != nil {
		m.paused.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

func (m *metrics) recordResumed(ctx context.Context, trigger string) {
	if m.resumed != nil {
		m.resumed.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}
