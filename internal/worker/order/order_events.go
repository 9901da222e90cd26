package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/messaging"
	"github.com/satguru/tiffin/internal/notify"
	ordersvc "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/internal/worker"
)

var workerTracer = otel.Tracer("github.com/satguru/tiffin/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderEventsHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Params defines dependencies for the order event handler.
type Params struct {
	fx.In

	Config   config.Config
	Logger   *zap.Logger
	Notifier notify.Notifier
}

// NoticeEvents are the order events customers are notified about.
var NoticeEvents = []string{
	ordersvc.EventOrderCreated,
	ordersvc.EventOrderPaused,
	ordersvc.EventOrderResumed,
}

// NewOrderEventsHandler registers the customer notice handler on the order topic.
func NewOrderEventsHandler(p Params) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Topic:      p.Config.Messaging.Kafka.Topic,
		EventTypes: NoticeEvents,
		Handler:    NewHandler(p.Notifier, p.Config.Store.Name, p.Logger),
	}
}

// NewHandler sends the customer a WhatsApp notice for created, paused and resumed orders.
// Other event types are acknowledged without action.
func NewHandler(notifier notify.Notifier, storeName string, logger *zap.Logger) messaging.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker.order")

	return func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		if t := msg.Headers[messaging.HeaderEventType]; t != "" {
			event.Type = t
		}
		span.SetAttributes(attribute.String("event.type", event.Type), attribute.Int64("order.id", event.ID))

		body, ok := noticeFor(event, storeName)
		if !ok {
			logger.Debug("order event ignored", zap.String("event", event.Type), zap.Int64("id", event.ID))
			return nil
		}
		if event.Phone == "" || !notifier.Enabled(notify.ChannelWhatsApp) {
			logger.Debug("order notice skipped", zap.String("event", event.Type), zap.Int64("id", event.ID))
			return nil
		}

		err := notifier.Send(ctx, notify.Message{
			Channel: notify.ChannelWhatsApp,
			To:      event.Phone,
			Body:    body,
		})
		if err != nil {
			// Failed notices are acknowledged, not redelivered.
			span.RecordError(err)
			logger.Warn("order notice failed",
				zap.String("event", event.Type),
				zap.Int64("id", event.ID),
				zap.Error(err))
			return nil
		}

		logger.Info("order notice sent",
			zap.String("event", event.Type),
			zap.Int64("id", event.ID),
			zap.String("number", event.Number))
		return nil
	}
}

func noticeFor(e ordersvc.OrderEvent, storeName string) (string, bool) {
	name := e.CustomerName
	if name == "" {
		name = "there"
	}
	switch e.Type {
	case ordersvc.EventOrderCreated:
		return fmt.Sprintf("Hi %s, thank you for ordering from %s. Your order %s has been received.",
			name, storeName, e.Number), true
	case ordersvc.EventOrderPaused:
		msg := fmt.Sprintf("Hi %s, your tiffin order %s is paused", name, e.Number)
		if len(e.Dates) > 0 {
			msg += " for: " + strings.Join(e.Dates, ", ")
		}
		return msg + ".", true
	case ordersvc.EventOrderResumed:
		return fmt.Sprintf("Hi %s, deliveries for your tiffin order %s have resumed.", name, e.Number), true
	}
	return "", false
}
