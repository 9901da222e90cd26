// Package catalog exposes products, option groups and meal add-ons over HTTP.
package catalog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/presentation/http/response"
	service "github.com/satguru/tiffin/internal/service/catalog"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/satguru/tiffin/transport/http/catalog")

// Catalog is the catalog service surface exposed over HTTP.
type Catalog interface {
	SaveProduct(ctx context.Context, p *entity.Product) error
	Product(ctx context.Context, id int64) (*entity.Product, error)
	Products(ctx context.Context) ([]*entity.Product, error)
	SaveAddon(ctx context.Context, a *entity.MealAddon) error
	Addon(ctx context.Context, id int64) (*entity.MealAddon, error)
	Addons(ctx context.Context, activeOnly bool) ([]*entity.MealAddon, error)
	DeleteAddon(ctx context.Context, id int64) error
	SaveOptionGroup(ctx context.Context, g *entity.OptionGroup) error
	OptionGroup(ctx context.Context, id int64) (*entity.OptionGroup, error)
	OptionGroups(ctx context.Context) ([]*entity.OptionGroup, error)
	DeleteOptionGroup(ctx context.Context, id int64) error
	OptionsForProduct(ctx context.Context, productID int64) ([]*entity.OptionGroup, error)
	Quote(ctx context.Context, req service.PriceRequest) (*service.Quote, error)
}

// Handler serves catalog endpoints.
type Handler struct {
	svc Catalog
}

// Params defines dependencies for the catalog Handler.
type Params struct {
	fx.In

	Service *service.Service
}

// Module wires HTTP catalog handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// NewHandler constructs a Handler from Fx dependencies.
func NewHandler(p Params) *Handler {
	return New(p.Service)
}

// New constructs a Handler over svc.
func New(svc Catalog) *Handler {
	return &Handler{svc: svc}
}

// Register routes on e, guarded by g.
func Register(e *echo.Echo, g *middleware.Guard, h *Handler) {
	public := e.Group("/apo/v1")
	public.GET("/meal-addons", h.activeAddons)
	public.GET("/products/:id/options", h.productOptions)
	public.POST("/price", h.price)

	admin := e.Group("/admin/catalog")
	read := g.Require(authz.ResourceCatalog, authz.ActionRead)
	write := g.Require(authz.ResourceCatalog, authz.ActionWrite)

	admin.GET("/products", h.listProducts, read)
	admin.POST("/products", h.createProduct, write)
	admin.GET("/products/:id", h.getProduct, read)
	admin.PUT("/products/:id", h.updateProduct, write)

	admin.GET("/option-groups", h.listGroups, read)
	admin.POST("/option-groups", h.createGroup, write)
	admin.GET("/option-groups/:id", h.getGroup, read)
	admin.PUT("/option-groups/:id", h.updateGroup, write)
	admin.DELETE("/option-groups/:id", h.deleteGroup, write)

	admin.GET("/meal-addons", h.listAddons, read)
	admin.POST("/meal-addons", h.createAddon, write)
	admin.GET("/meal-addons/:id", h.getAddon, read)
	admin.PUT("/meal-addons/:id", h.updateAddon, write)
	admin.DELETE("/meal-addons/:id", h.deleteAddon, write)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid id")
	}
	return id, nil
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	return nil
}

func (h *Handler) activeAddons(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.activeAddons")
	defer span.End()

	addons, err := h.svc.Addons(ctx, true)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(addons).Build()
}

func (h *Handler) productOptions(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.productOptions")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", id))

	groups, err := h.svc.OptionsForProduct(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(groups).Build()
}

func (h *Handler) price(c echo.Context) error {
	b := response.New(c)

	var req service.PriceRequest
	if err := bind(c, &req); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.price")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", req.ProductID))

	quote, err := h.svc.Quote(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(quote).Build()
}

func (h *Handler) listProducts(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.listProducts")
	defer span.End()

	products, err := h.svc.Products(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(products).Build()
}

func (h *Handler) getProduct(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	product, err := h.svc.Product(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(product).Build()
}

func (h *Handler) createProduct(c echo.Context) error {
	b := response.New(c)

	var p entity.Product
	if err := bind(c, &p); err != nil {
		return b.WithError(err).Build()
	}
	p.ID = 0

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.createProduct")
	defer span.End()

	if err := h.svc.SaveProduct(ctx, &p); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(&p).Build()
}

func (h *Handler) updateProduct(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var p entity.Product
	if err := bind(c, &p); err != nil {
		return b.WithError(err).Build()
	}
	p.ID = id

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.updateProduct")
	defer span.End()

	if err := h.svc.SaveProduct(ctx, &p); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(&p).Build()
}

func (h *Handler) listGroups(c echo.Context) error {
	b := response.New(c)

	groups, err := h.svc.OptionGroups(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(groups).Build()
}

func (h *Handler) getGroup(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	group, err := h.svc.OptionGroup(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(group).Build()
}

func (h *Handler) createGroup(c echo.Context) error {
	b := response.New(c)

	var g entity.OptionGroup
	if err := bind(c, &g); err != nil {
		return b.WithError(err).Build()
	}
	g.ID = 0

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.createOptionGroup")
	defer span.End()

	if err := h.svc.SaveOptionGroup(ctx, &g); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(&g).Build()
}

func (h *Handler) updateGroup(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var g entity.OptionGroup
	if err := bind(c, &g); err != nil {
		return b.WithError(err).Build()
	}
	g.ID = id

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.updateOptionGroup")
	defer span.End()

	if err := h.svc.SaveOptionGroup(ctx, &g); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(&g).Build()
}

func (h *Handler) deleteGroup(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	if err := h.svc.DeleteOptionGroup(c.Request().Context(), id); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]int64{"deleted": id}).Build()
}

func (h *Handler) listAddons(c echo.Context) error {
	b := response.New(c)

	addons, err := h.svc.Addons(c.Request().Context(), false)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(addons).Build()
}

func (h *Handler) getAddon(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	addon, err := h.svc.Addon(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(addon).Build()
}

func (h *Handler) createAddon(c echo.Context) error {
	b := response.New(c)

	var a entity.MealAddon
	if err := bind(c, &a); err != nil {
		return b.WithError(err).Build()
	}
	a.ID = 0

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.createAddon")
	defer span.End()

	if err := h.svc.SaveAddon(ctx, &a); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(&a).Build()
}

func (h *Handler) updateAddon(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var a entity.MealAddon
	if err := bind(c, &a); err != nil {
		return b.WithError(err).Build()
	}
	a.ID = id

	ctx, span := httpTracer.Start(c.Request().Context(), "catalog.updateAddon")
	defer span.End()

	if err := h.svc.SaveAddon(ctx, &a); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(&a).Build()
}

func (h *Handler) deleteAddon(c echo.Context) error {
	b := response.New(c)

	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	if err := h.svc.DeleteAddon(c.Request().Context(), id); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]int64{"deleted": id}).Build()
}
