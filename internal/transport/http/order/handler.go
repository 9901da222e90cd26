package order

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/presentation/http/response"
	service "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/internal/tiffin"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/satguru/tiffin/transport/http/order")

// Orders is the order service surface exposed over HTTP.
type Orders interface {
	Today() calendar.Date
	Get(ctx context.Context, id int64) (*entity.Order, error)
	GetForCustomer(ctx context.Context, userID, id int64) (*entity.Order, error)
	GetByToken(ctx context.Context, token string) (*entity.Order, error)
	List(ctx context.Context, q service.ListQuery) (*service.Page, error)
	Create(ctx context.Context, req service.CheckoutRequest) (*entity.Order, error)
	UpdateDetails(ctx context.Context, id int64, u service.DetailsUpdate, author string) (*entity.Order, error)
	History(ctx context.Context, id int64) ([]*entity.OrderNote, error)
	Tiffins(ctx context.Context, id int64) (*service.TiffinReport, error)
	OrdersFor(ctx context.Context, d calendar.Date) ([]service.DailyOrder, error)
	TodaysOrders(ctx context.Context) ([]service.DailyOrder, error)
	SavePauseDates(ctx context.Context, req service.PauseRequest) (*entity.Order, error)
	Resume(ctx context.Context, orderID int64, actor string) (*entity.Order, error)
	CancelScheduledPause(ctx context.Context, orderID int64, actor string) (*entity.Order, error)
	CheckPausedOrders(ctx context.Context) (*service.PauseReport, error)
	ListPaused(ctx context.Context, page, perPage int, search string) (*service.Page, error)
	ReorderDetails(ctx context.Context, userID, orderID int64) (*service.ReorderDetails, error)
	ProcessReorder(ctx context.Context, userID, orderID int64, start calendar.Date) (*entity.Order, error)
}

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc Orders
}

// Params defines dependencies for the order Handler.
type Params struct {
	fx.In

	Service *service.Service
}

// NewHandler constructs an order Handler from Fx dependencies.
func NewHandler(p Params) *Handler {
	return New(p.Service)
}

// New constructs an order Handler over svc.
func New(svc Orders) *Handler {
	return &Handler{svc: svc}
}

// Register routes on e, guarded by g.
func Register(e *echo.Echo, g *middleware.Guard, h *Handler) {
	e.GET("/customer-order/:token", h.byToken)

	feed := e.Group("/satguru/v1", g.APIKeyOr(authz.ResourceOrderFeed, authz.ActionRead))
	feed.GET("/todays-orders", h.todaysOrders)
	feed.GET("/check-paused-orders", h.checkPausedOrders)
	feed.GET("/todays-orders-with-check", h.todaysOrdersWithCheck)

	account := e.Group("/account/orders")
	account.GET("", h.myOrders, g.Require(authz.ResourceOwnOrders, authz.ActionRead))
	account.POST("", h.checkout, g.Require(authz.ResourceOwnOrders, authz.ActionWrite))
	account.GET("/:id", h.myOrder, g.Require(authz.ResourceOwnOrders, authz.ActionRead))
	account.GET("/:id/reorder", h.reorderDetails, g.Require(authz.ResourceOwnOrders, authz.ActionRead))
	account.POST("/:id/reorder", h.reorder, g.Require(authz.ResourceOwnOrders, authz.ActionWrite))

	read := g.Require(authz.ResourceOrders, authz.ActionRead)
	write := g.Require(authz.ResourceOrders, authz.ActionWrite)
	admin := e.Group("/admin/orders")
	admin.GET("", h.list, read)
	admin.GET("/:id", h.getByID, read)
	admin.PATCH("/:id", h.updateDetails, write)
	admin.GET("/:id/tiffins", h.tiffins, read)
	admin.GET("/:id/history", h.history, read)
	admin.POST("/:id/pause", h.pause, write)
	admin.POST("/:id/resume", h.resume, write)
	admin.DELETE("/:id/scheduled-pause", h.cancelScheduledPause, write)
	e.GET("/admin/paused-orders", h.paused, g.Require(authz.ResourcePausedOrder, authz.ActionRead))
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid id")
	}
	return id, nil
}

func userID(c echo.Context) (int64, error) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return 0, errorbank.Unauthorized("authentication required")
	}
	return claims.UserID, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorbank.BadRequest("invalid " + name)
	}
	return n, nil
}

func queryDate(c echo.Context, name string) (calendar.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, errorbank.BadRequest("invalid " + name)
	}
	return d, nil
}

// listQuery reads the shared listing parameters.
func listQuery(c echo.Context) (service.ListQuery, error) {
	var q service.ListQuery
	var err error
	if raw := c.QueryParam("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				q.Statuses = append(q.Statuses, st)
			}
		}
	}
	q.Search = strings.TrimSpace(c.QueryParam("search"))
	if q.CreatedFrom, err = queryDate(c, "created_from"); err != nil {
		return q, err
	}
	if q.CreatedTo, err = queryDate(c, "created_to"); err != nil {
		return q, err
	}
	if q.DeliveryDate, err = queryDate(c, "delivery_date"); err != nil {
		return q, err
	}
	if q.Page, err = queryInt(c, "page"); err != nil {
		return q, err
	}
	if q.PerPage, err = queryInt(c, "per_page"); err != nil {
		return q, err
	}
	return q, nil
}

func pageResponse(b *response.Builder, page *service.Page) error {
	return b.WithData(page.Orders).WithPage(page.Total, page.Page, page.PerPage).Build()
}

// CustomerOrder is the public view of an order reached by its access token.
type CustomerOrder struct {
	Order   *entity.Order  `json:"order"`
	Summary tiffin.Summary `json:"summary"`
}

func (h *Handler) byToken(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.byToken")
	defer span.End()

	order, err := h.svc.GetByToken(ctx, c.Param("token"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(CustomerOrder{Order: order, Summary: tiffin.Summarize(order, h.svc.Today())}).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	q, err := listQuery(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list")
	defer span.End()

	page, err := h.svc.List(ctx, q)
	if err != nil {
		return b.WithError(err).Build()
	}
	return pageResponse(b, page)
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

type detailsPayload struct {
	CustomerName    *string `json:"customer_name"`
	Phone           *string `json:"phone"`
	Email           *string `json:"email"`
	Address         *string `json:"address"`
	City            *string `json:"city"`
	PostalCode      *string `json:"postal_code"`
	BillingAddress  *string `json:"billing_address"`
	ShippingAddress *string `json:"shipping_address"`
	CustomerNote    *string `json:"customer_note"`
	Status          *string `json:"status"`
}

func (h *Handler) updateDetails(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload detailsPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateDetails", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.UpdateDetails(ctx, id, service.DetailsUpdate(payload), middleware.Actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

func (h *Handler) tiffins(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.tiffins", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	report, err := h.svc.Tiffins(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(report).Build()
}

func (h *Handler) history(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.history", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	notes, err := h.svc.History(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(notes).Build()
}

func (h *Handler) myOrders(c echo.Context) error {
	b := response.New(c)

	uid, err := userID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	q, err := listQuery(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	q.UserID = &uid

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.myOrders")
	defer span.End()

	page, err := h.svc.List(ctx, q)
	if err != nil {
		return b.WithError(err).Build()
	}
	return pageResponse(b, page)
}

func (h *Handler) myOrder(c echo.Context) error {
	b := response.New(c)

	uid, err := userID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.myOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.GetForCustomer(ctx, uid, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(CustomerOrder{Order: order, Summary: tiffin.Summarize(order, h.svc.Today())}).Build()
}

func (h *Handler) checkout(c echo.Context) error {
	b := response.New(c)

	uid, err := userID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var req service.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	req.UserID = &uid

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.checkout")
	defer span.End()

	order, err := h.svc.Create(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(attribute.String("order.number", order.Number))
	return b.WithStatus(http.StatusCreated).WithData(order).Build()
}

func (h *Handler) reorderDetails(c echo.Context) error {
	b := response.New(c)

	uid, err := userID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.reorderDetails", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	details, err := h.svc.ReorderDetails(ctx, uid, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(details).Build()
}

func (h *Handler) reorder(c echo.Context) error {
	b := response.New(c)

	uid, err := userID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload struct {
		StartDate calendar.Date `json:"start_date"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.reorder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.ProcessReorder(ctx, uid, id, payload.StartDate)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(order).Build()
}
