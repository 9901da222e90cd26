package order

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/satguru/tiffin/internal/presentation/http/response"
	service "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	"github.com/satguru/tiffin/pkg/errorbank"
)

func (h *Handler) pause(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var req service.PauseRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	req.OrderID = id
	req.Actor = middleware.Actor(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.pause", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("pause.type", req.Type),
	))
	defer span.End()

	order, err := h.svc.SavePauseDates(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

func (h *Handler) resume(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.resume", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Resume(ctx, id, middleware.Actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

func (h *Handler) cancelScheduledPause(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.cancelScheduledPause", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.CancelScheduledPause(ctx, id, middleware.Actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

func (h *Handler) paused(c echo.Context) error {
	b := response.New(c)

	page, err := queryInt(c, "page")
	if err != nil {
		return b.WithError(err).Build()
	}
	perPage, err := queryInt(c, "per_page")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.paused")
	defer span.End()

	result, err := h.svc.ListPaused(ctx, page, perPage, c.QueryParam("search"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return pageResponse(b, result)
}
