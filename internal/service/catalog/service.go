// Package catalog manages products, option groups and meal add-ons, and prices configured items.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/entity"
	repo "github.com/satguru/tiffin/internal/repository/catalog"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/satguru/tiffin/service/catalog")

// Store is the persistence surface used by the service.
type Store interface {
	CreateProduct(ctx context.Context, p *entity.Product) error
	UpdateProduct(ctx context.Context, p *entity.Product) error
	GetProduct(ctx context.Context, id int64) (*entity.Product, error)
	ListProducts(ctx context.Context) ([]*entity.Product, error)
	MissingProducts(ctx context.Context, ids []int64) ([]int64, error)

	CreateOptionGroup(ctx context.Context, g *entity.OptionGroup) error
	UpdateOptionGroup(ctx context.Context, g *entity.OptionGroup) error
	GetOptionGroup(ctx context.Context, id int64) (*entity.OptionGroup, error)
	DeleteOptionGroup(ctx context.Context, id int64) error
	ListOptionGroups(ctx context.Context, activeOnly bool) ([]*entity.OptionGroup, error)

	CreateAddon(ctx context.Context, a *entity.MealAddon) error
	UpdateAddon(ctx context.Context, a *entity.MealAddon) error
	GetAddon(ctx context.Context, id int64) (*entity.MealAddon, error)
	DeleteAddon(ctx context.Context, id int64) error
	ListAddons(ctx context.Context, activeOnly bool) ([]*entity.MealAddon, error)
}

// Service implements catalog management and pricing.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Logger     *zap.Logger
}

// NewService wires a Service backed by the catalog repository.
func NewService(p Params) *Service {
	return New(p.Repository, p.Logger)
}

// New builds a Service over any Store.
func New(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger.Named("catalog"), now: time.Now}
}

func (s *Service) internal(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return errorbank.Internal(msg, errorbank.WithCause(err))
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return errorbank.NotFound(what + " not found")
	}
	return errorbank.Internal("failed to load "+what, errorbank.WithCause(err))
}

func normalizeStatus(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "":
		return entity.CatalogActive, nil
	case entity.CatalogActive, entity.CatalogInactive:
		return status, nil
	}
	return "", errorbank.BadRequest(fmt.Sprintf("invalid status %q", status))
}

// SaveProduct creates the product when its id is zero and updates it otherwise.
func (s *Service) SaveProduct(ctx context.Context, p *entity.Product) error {
	if p == nil {
		return errorbank.BadRequest("product payload is required")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errorbank.BadRequest("product name is required")
	}
	if p.BasePrice.IsNegative() {
		return errorbank.BadRequest("base price must not be negative")
	}
	status, err := normalizeStatus(p.Status)
	if err != nil {
		return err
	}
	p.Status = status

	ctx, span := serviceTracer.Start(ctx, "CatalogService.SaveProduct", trace.WithAttributes(attribute.Int64("product.id", p.ID)))
	defer span.End()

	p.UpdatedAt = s.now().UTC()
	if p.ID == 0 {
		p.CreatedAt = p.UpdatedAt
		if err := s.store.CreateProduct(ctx, p); err != nil {
			return s.internal(span, "failed to create product", err)
		}
		return nil
	}
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errorbank.NotFound("product not found")
		}
		return s.internal(span, "failed to update product", err)
	}
	return nil
}

// Product returns a product by id.
func (s *Service) Product(ctx context.Context, id int64) (*entity.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "product")
	}
	return p, nil
}

// Products lists all products.
func (s *Service) Products(ctx context.Context) ([]*entity.Product, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to list products", errorbank.WithCause(err))
	}
	return products, nil
}

// SaveAddon creates or updates a meal add-on.
func (s *Service) SaveAddon(ctx context.Context, a *entity.MealAddon) error {
	if a == nil {
		return errorbank.BadRequest("add-on payload is required")
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return errorbank.BadRequest("add-on name is required")
	}
	if a.Price.IsNegative() {
		return errorbank.BadRequest("add-on price must not be negative")
	}
	if a.MaxQuantity < 0 {
		return errorbank.BadRequest("max quantity must not be negative")
	}
	status, err := normalizeStatus(a.Status)
	if err != nil {
		return err
	}
	a.Status = status

	ctx, span := serviceTracer.Start(ctx, "CatalogService.SaveAddon", trace.WithAttributes(attribute.Int64("addon.id", a.ID)))
	defer span.End()

	a.UpdatedAt = s.now().UTC()
	if a.ID == 0 {
		a.CreatedAt = a.UpdatedAt
		if err := s.store.CreateAddon(ctx, a); err != nil {
			return s.internal(span, "failed to create add-on", err)
		}
		return nil
	}
	if err := s.store.UpdateAddon(ctx, a); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errorbank.NotFound("add-on not found")
		}
		return s.internal(span, "failed to update add-on", err)
	}
	return nil
}

// Addon returns an add-on by id.
func (s *Service) Addon(ctx context.Context, id int64) (*entity.MealAddon, error) {
	a, err := s.store.GetAddon(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "add-on")
	}
	return a, nil
}

// Addons lists add-ons; activeOnly restricts the list to what customers can order.
func (s *Service) Addons(ctx context.Context, activeOnly bool) ([]*entity.MealAddon, error) {
	addons, err := s.store.ListAddons(ctx, activeOnly)
	if err != nil {
		return nil, errorbank.Internal("failed to list add-ons", errorbank.WithCause(err))
	}
	return addons, nil
}

// DeleteAddon removes an add-on.
func (s *Service) DeleteAddon(ctx context.Context, id int64) error {
	if err := s.store.DeleteAddon(ctx, id); err != nil {
		return notFoundOr(err, "add-on")
	}
	return nil
}

// SaveOptionGroup validates and stores an option group.
func (s *Service) SaveOptionGroup(ctx context.Context, g *entity.OptionGroup) error {
	if g == nil {
		return errorbank.BadRequest("option group payload is required")
	}
	ctx, span := serviceTracer.Start(ctx, "CatalogService.SaveOptionGroup", trace.WithAttributes(attribute.Int64("group.id", g.ID)))
	defer span.End()

	if err := validateGroup(g); err != nil {
		return err
	}
	if len(g.ProductIDs) > 0 {
		missing, err := s.store.MissingProducts(ctx, g.ProductIDs)
		if err != nil {
			return s.internal(span, "failed to verify products", err)
		}
		if len(missing) > 0 {
			return errorbank.BadRequest("unknown product ids", errorbank.WithDetail("product_ids", missing))
		}
	}

	g.UpdatedAt = s.now().UTC()
	if g.ID == 0 {
		g.CreatedAt = g.UpdatedAt
		if err := s.store.CreateOptionGroup(ctx, g); err != nil {
			return s.internal(span, "failed to create option group", err)
		}
		return nil
	}
	if err := s.store.UpdateOptionGroup(ctx, g); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errorbank.NotFound("option group not found")
		}
		return s.internal(span, "failed to update option group", err)
	}
	return nil
}

func validateGroup(g *entity.OptionGroup) error {
	g.Title = strings.TrimSpace(g.Title)
	if g.Title == "" {
		return errorbank.BadRequest("option group title is required")
	}
	status, err := normalizeStatus(g.Status)
	if err != nil {
		return err
	}
	g.Status = status

	seen := make(map[string]struct{}, len(g.Options))
	for i := range g.Options {
		opt := &g.Options[i]
		opt.ID = strings.TrimSpace(opt.ID)
		if opt.ID == "" {
			return errorbank.BadRequest(fmt.Sprintf("option %d has no id", i+1))
		}
		if _, dup := seen[opt.ID]; dup {
			return errorbank.BadRequest(fmt.Sprintf("duplicate option id %q", opt.ID))
		}
		seen[opt.ID] = struct{}{}

		switch opt.Type {
		case entity.OptionRadio, entity.OptionSelect, entity.OptionCheckbox,
			entity.OptionText, entity.OptionDate, entity.OptionImage:
		default:
			return errorbank.BadRequest(fmt.Sprintf("option %q has invalid type %q", opt.ID, opt.Type))
		}
		if !opt.HasChoices() {
			continue
		}
		if len(opt.Choices) == 0 {
			return errorbank.BadRequest(fmt.Sprintf("option %q needs at least one choice", opt.ID))
		}
		values := make(map[string]struct{}, len(opt.Choices))
		for j := range opt.Choices {
			c := &opt.Choices[j]
			if c.Value == "" {
				return errorbank.BadRequest(fmt.Sprintf("option %q has a choice without value", opt.ID))
			}
			if _, dup := values[c.Value]; dup {
				return errorbank.BadRequest(fmt.Sprintf("option %q repeats choice %q", opt.ID, c.Value))
			}
			values[c.Value] = struct{}{}
			if c.PriceType == "" {
				c.PriceType = entity.PriceFixed
			}
			switch c.PriceType {
			case entity.PriceFixed:
			case entity.PriceMultiplier:
				if !c.Multiplier.IsPositive() {
					return errorbank.BadRequest(fmt.Sprintf("option %q choice %q needs a positive multiplier", opt.ID, c.Value))
				}
			default:
				return errorbank.BadRequest(fmt.Sprintf("option %q choice %q has invalid price type", opt.ID, c.Value))
			}
		}
	}
	return nil
}

// OptionGroup returns an option group by id.
func (s *Service) OptionGroup(ctx context.Context, id int64) (*entity.OptionGroup, error) {
	g, err := s.store.GetOptionGroup(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "option group")
	}
	return g, nil
}

// OptionGroups lists every option group.
func (s *Service) OptionGroups(ctx context.Context) ([]*entity.OptionGroup, error) {
	groups, err := s.store.ListOptionGroups(ctx, false)
	if err != nil {
		return nil, errorbank.Internal("failed to list option groups", errorbank.WithCause(err))
	}
	return groups, nil
}

// DeleteOptionGroup removes an option group.
func (s *Service) DeleteOptionGroup(ctx context.Context, id int64) error {
	if err := s.store.DeleteOptionGroup(ctx, id); err != nil {
		return notFoundOr(err, "option group")
	}
	return nil
}

// OptionsForProduct returns the active groups targeting productID ordered by priority.
func (s *Service) OptionsForProduct(ctx context.Context, productID int64) ([]*entity.OptionGroup, error) {
	groups, err := s.store.ListOptionGroups(ctx, true)
	if err != nil {
		return nil, errorbank.Internal("failed to list option groups", errorbank.WithCause(err))
	}
	out := make([]*entity.OptionGroup, 0, len(groups))
	for _, g := range groups {
		if g.AppliesTo(productID) {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}
