package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/messaging"
)

// HandlerRegistration binds a handler to a topic. When EventTypes is set only messages
// whose event-type header matches are dispatched; other events on the topic are acknowledged.
type HandlerRegistration struct {
	Topic      string
	EventTypes []string
	Handler    messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

type route struct {
	events  map[string]bool
	handler messaging.Handler
}

func (r route) accepts(event string) bool {
	return len(r.events) == 0 || r.events[event]
}

// Engine consumes the order event stream and dispatches messages to registered handlers.
type Engine struct {
	client    messaging.Client
	logger    *zap.Logger
	enabled   bool
	workers   int
	routes    map[string][]route
	processed metric.Int64Counter
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) *Engine {
	cfg := p.Config.Messaging
	return New(p.Client, cfg.Enabled && cfg.Workers.Enabled, cfg.Workers.Concurrency, p.Logger, p.Registrations...)
}

// New builds an Engine over explicit collaborators.
func New(client messaging.Client, enabled bool, workers int, logger *zap.Logger, regs ...HandlerRegistration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	routes := make(map[string][]route, len(regs))
	for _, r := range regs {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		rt := route{handler: r.Handler}
		if len(r.EventTypes) > 0 {
			rt.events = make(map[string]bool, len(r.EventTypes))
			for _, ev := range r.EventTypes {
				rt.events[ev] = true
			}
		}
		routes[r.Topic] = append(routes[r.Topic], rt)
	}

	processed, err := otel.Meter("github.com/satguru/tiffin/worker").Int64Counter("tiffin.worker.messages",
		metric.WithDescription("Messages handled by the worker engine"))
	if err != nil {
		logger.Warn("worker metrics unavailable", zap.Error(err))
	}

	return &Engine{
		client:    client,
		logger:    logger.Named("worker"),
		enabled:   enabled,
		workers:   workers,
		routes:    routes,
		processed: processed,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

// Dispatch runs every handler registered for the message's topic and event type.
// The first handler error is returned so the message is not committed.
func (e *Engine) Dispatch(ctx context.Context, msg messaging.Message) error {
	event := msg.Headers[messaging.HeaderEventType]
	routes, ok := e.routes[msg.Topic]
	if !ok {
		e.logger.Warn("no handler for topic", zap.String("topic", msg.Topic))
		e.count(ctx, msg.Topic, event, "unrouted")
		return nil
	}

	var firstErr error
	handled := false
	for _, rt := range routes {
		if !rt.accepts(event) {
			continue
		}
		handled = true
		if err := rt.handler(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	switch {
	case firstErr != nil:
		e.logger.Error("message handling failed",
			zap.String("topic", msg.Topic),
			zap.String("event", event),
			zap.Int64("offset", msg.Offset),
			zap.Error(firstErr))
		e.count(ctx, msg.Topic, event, "failed")
	case handled:
		e.count(ctx, msg.Topic, event, "handled")
	default:
		e.count(ctx, msg.Topic, event, "ignored")
	}
	return firstErr
}

func (e *Engine) count(ctx context.Context, topic, event, outcome string) {
	if e.processed == nil {
		return
	}
	e.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

func (e *Engine) start(ctx context.Context) error {
	if !e.enabled {
		e.logger.Info("worker engine disabled")

		return nil
	}
	if len(e.routes) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")

		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg = &sync.WaitGroup{}

	for i := 0; i < e.workers; i++ {
		workerID := i
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx, workerID)
		}()
	}

	e.logger.Info("worker engine started", zap.Int("workers", e.workers), zap.String("topic", e.client.Topic()))

	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		if e.wg != nil {
			e.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")

		return nil
	}
}

func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			e.logger.Debug("processing message",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Int("worker", workerID))

			return e.Dispatch(msgCtx, msg)
		})

		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
