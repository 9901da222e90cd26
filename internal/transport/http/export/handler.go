// Package export serves order sheet downloads and uploads.
package export

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/presentation/http/response"
	service "github.com/satguru/tiffin/internal/service/export"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/satguru/tiffin/transport/http/export")

// Exporter builds and imports order sheets.
type Exporter interface {
	Build(ctx context.Context, q service.Query) (*service.Sheet, error)
	BuildByIDs(ctx context.Context, ids []int64) (*service.Sheet, error)
	Import(ctx context.Context, filename string, r io.Reader, actor string) (*service.ImportResult, error)
}

// Handler serves export and import endpoints.
type Handler struct {
	svc Exporter
	loc *time.Location
}

// Params defines dependencies for the export Handler.
type Params struct {
	fx.In

	Service *service.Service
	Config  config.Config
}

// Module wires HTTP export handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// NewHandler constructs a Handler from Fx dependencies.
func NewHandler(p Params) *Handler {
	return New(p.Service, p.Config.Schedule.Location)
}

// New constructs a Handler over svc; created-date filters are read in loc.
func New(svc Exporter, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, loc: loc}
}

// Register routes on e, guarded by g.
func Register(e *echo.Echo, g *middleware.Guard, h *Handler) {
	export := g.Require(authz.ResourceExport, authz.ActionRead)
	e.GET("/admin/export/orders", h.exportOrders, export)
	e.POST("/admin/export/orders-by-ids", h.exportByIDs, export)
	e.POST("/admin/orders/preview", h.preview, export)

	importer := g.Require(authz.ResourceImport, authz.ActionWrite)
	e.POST("/admin/import/orders", h.importOrders, importer)
	e.GET("/admin/import/sample", h.sample, g.Require(authz.ResourceImport, authz.ActionRead))
}

func (h *Handler) dateParam(c echo.Context, name string) (calendar.Date, error) {
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

func (h *Handler) query(c echo.Context) (service.Query, error) {
	var q service.Query
	if raw := c.QueryParam("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				q.Filter.Statuses = append(q.Filter.Statuses, st)
			}
		}
	}
	q.Filter.Search = strings.TrimSpace(c.QueryParam("search"))

	from, err := h.dateParam(c, "created_from")
	if err != nil {
		return q, err
	}
	if !from.IsZero() {
		q.Filter.CreatedFrom = from.Time(h.loc)
	}
	to, err := h.dateParam(c, "created_to")
	if err != nil {
		return q, err
	}
	if !to.IsZero() {
		q.Filter.CreatedTo = to.AddDays(1).Time(h.loc)
	}
	if q.Date, err = h.dateParam(c, "date"); err != nil {
		return q, err
	}
	q.DeliveringOnly, _ = strconv.ParseBool(c.QueryParam("delivering"))
	return q, nil
}

func attach(c echo.Context, format service.Format, name string, sheet *service.Sheet) error {
	b := response.New(c)
	var buf bytes.Buffer
	if err := service.Write(&buf, format, sheet); err != nil {
		return b.WithError(errorbank.Internal("failed to render export", errorbank.WithCause(err))).Build()
	}
	return b.WithAttachment(name+"."+string(format), format.ContentType(), buf.Bytes()).Build()
}

func (h *Handler) exportOrders(c echo.Context) error {
	b := response.New(c)

	format, err := service.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return b.WithError(err).Build()
	}
	q, err := h.query(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "export.orders")
	defer span.End()
	span.SetAttributes(attribute.String("export.format", string(format)))

	sheet, err := h.svc.Build(ctx, q)
	if err != nil {
		return b.WithError(err).Build()
	}
	name := "orders-" + calendar.DateOf(time.Now().In(h.loc)).String()
	if !q.Date.IsZero() {
		name = "orders-" + q.Date.String()
	}
	return attach(c, format, name, sheet)
}

type idsPayload struct {
	IDs    []int64 `json:"ids"`
	Format string  `json:"format"`
}

func (h *Handler) exportByIDs(c echo.Context) error {
	b := response.New(c)

	var payload idsPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	format, err := service.ParseFormat(payload.Format)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "export.ordersByIDs")
	defer span.End()
	span.SetAttributes(attribute.Int("export.ids", len(payload.IDs)))

	sheet, err := h.svc.BuildByIDs(ctx, payload.IDs)
	if err != nil {
		return b.WithError(err).Build()
	}
	return attach(c, format, "selected-orders", sheet)
}

func (h *Handler) preview(c echo.Context) error {
	b := response.New(c)

	var payload idsPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "export.preview")
	defer span.End()

	sheet, err := h.svc.BuildByIDs(ctx, payload.IDs)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(sheet).Build()
}

func (h *Handler) importOrders(c echo.Context) error {
	b := response.New(c)

	header, err := c.FormFile("file")
	if err != nil {
		return b.WithError(errorbank.BadRequest("upload a file in the \"file\" field", errorbank.WithCause(err))).Build()
	}
	file, err := header.Open()
	if err != nil {
		return b.WithError(errorbank.BadRequest("failed to read upload", errorbank.WithCause(err))).Build()
	}
	defer file.Close()

	ctx, span := httpTracer.Start(c.Request().Context(), "export.import")
	defer span.End()
	span.SetAttributes(attribute.String("import.file", header.Filename))

	result, err := h.svc.Import(ctx, header.Filename, file, middleware.Actor(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}

func (h *Handler) sample(c echo.Context) error {
	b := response.New(c)
	var buf bytes.Buffer
	if err := service.WriteSample(&buf); err != nil {
		return b.WithError(errorbank.Internal("failed to render sample", errorbank.WithCause(err))).Build()
	}
	return b.WithAttachment("order-import-sample.xlsx", service.FormatXLSX.ContentType(), buf.Bytes()).Build()
}
