package seeder

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/entity"
	userrepo "github.com/satguru/tiffin/internal/repository/user"
	catalogsvc "github.com/satguru/tiffin/internal/service/catalog"
)

// Module exposes the seeder to Fx.
var Module = fx.Provide(NewSeeder)

// Catalog is the catalog surface the seeder writes through.
type Catalog interface {
	Products(ctx context.Context) ([]*entity.Product, error)
	SaveProduct(ctx context.Context, p *entity.Product) error
	Addons(ctx context.Context, activeOnly bool) ([]*entity.MealAddon, error)
	SaveAddon(ctx context.Context, a *entity.MealAddon) error
}

// Users is the account store the seeder writes to.
type Users interface {
	FindByIdentifier(ctx context.Context, identifier string) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) error
}

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	catalog Catalog
	users   Users
	logger  *zap.Logger
}

// Params defines dependencies for the seeder.
type Params struct {
	fx.In

	Catalog *catalogsvc.Service
	Users   *userrepo.Repository
	Logger  *zap.Logger
}

// NewSeeder wires a Seeder from Fx dependencies.
func NewSeeder(p Params) *Seeder {
	return New(p.Catalog, p.Users, p.Logger)
}

// New constructs a Seeder over explicit collaborators.
func New(catalog Catalog, users Users, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{catalog: catalog, users: users, logger: logger}
}

var sampleProducts = []entity.Product{
	{Name: "Veg Tiffin", SKU: "TIFFIN-VEG", BasePrice: decimal.RequireFromString("12.99")},
	{Name: "Non-Veg Tiffin", SKU: "TIFFIN-NONVEG", BasePrice: decimal.RequireFromString("14.99")},
	{Name: "Trial Meal", SKU: "TIFFIN-TRIAL", BasePrice: decimal.RequireFromString("9.99")},
}

var sampleAddons = []entity.MealAddon{
	{Name: "Extra Roti", Description: "Two fresh rotis", Price: decimal.RequireFromString("1.50"), MaxQuantity: 5},
	{Name: "Raita", Description: "Cucumber raita", Price: decimal.RequireFromString("2.00"), MaxQuantity: 2},
	{Name: "Gulab Jamun", Description: "Two pieces", Price: decimal.RequireFromString("3.00"), MaxQuantity: 3},
}

// Catalog seeds the sample products and meal add-ons that are missing by name.
func (s *Seeder) Catalog(ctx context.Context) (int, error) {
	products, err := s.catalog.Products(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(products))
	for _, p := range products {
		have[strings.ToLower(p.Name)] = true
	}
	created := 0
	for _, sample := range sampleProducts {
		if have[strings.ToLower(sample.Name)] {
			continue
		}
		product := sample
		product.Status = entity.CatalogActive
		if err := s.catalog.SaveProduct(ctx, &product); err != nil {
			return created, err
		}
		created++
	}

	addons, err := s.catalog.Addons(ctx, false)
	if err != nil {
		return created, err
	}
	have = make(map[string]bool, len(addons))
	for _, a := range addons {
		have[strings.ToLower(a.Name)] = true
	}
	for _, sample := range sampleAddons {
		if have[strings.ToLower(sample.Name)] {
			continue
		}
		addon := sample
		addon.Status = entity.CatalogActive
		if err := s.catalog.SaveAddon(ctx, &addon); err != nil {
			return created, err
		}
		created++
	}

	s.logger.Info("seeded catalog", zap.Int("created", created))
	return created, nil
}

// Admin creates an administrator account unless one with the same email exists.
func (s *Seeder) Admin(ctx context.Context, name, email, phone string) (*entity.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("admin email is required")
	}
	existing, err := s.users.FindByIdentifier(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, userrepo.ErrNotFound) {
		return nil, err
	}
	u := &entity.User{Name: name, Email: email, Phone: strings.TrimSpace(phone), Role: entity.RoleAdmin}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("seeded admin user", zap.Int64("user_id", u.ID))
	return u, nil
}
