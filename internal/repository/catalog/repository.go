package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/satguru/tiffin/internal/database"
	"github.com/satguru/tiffin/internal/entity"
)

var repoTracer = otel.Tracer("github.com/satguru/tiffin/repository/catalog")

// ErrNotFound is returned when a catalog record is missing.
var ErrNotFound = errors.New("catalog record not found")

// Repository stores products, option groups and meal add-ons.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

func (r *Repository) insert(ctx context.Context, name string, model any) error {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.Insert", trace.WithAttributes(attribute.String("catalog.kind", name)))
	defer span.End()

	if _, err := r.writer.NewInsert().Model(model).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	return nil
}

func (r *Repository) update(ctx context.Context, name string, model any) error {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.Update", trace.WithAttributes(attribute.String("catalog.kind", name)))
	defer span.End()

	res, err := r.writer.NewUpdate().Model(model).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) getByID(ctx context.Context, model any, id int64) error {
	err := r.reader.NewSelect().Model(model).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *Repository) delete(ctx context.Context, model any, id int64) error {
	res, err := r.writer.NewDelete().Model(model).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func ignoreNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// CreateProduct inserts a product.
func (r *Repository) CreateProduct(ctx context.Context, p *entity.Product) error {
	return r.insert(ctx, "product", p)
}

// UpdateProduct replaces a product's fields.
func (r *Repository) UpdateProduct(ctx context.Context, p *entity.Product) error {
	p.UpdatedAt = time.Now().UTC()
	return r.update(ctx, "product", p)
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*entity.Product, error) {
	p := new(entity.Product)
	if err := r.getByID(ctx, p, id); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts returns all products ordered by name.
func (r *Repository) ListProducts(ctx context.Context) ([]*entity.Product, error) {
	var out []*entity.Product
	err := r.reader.NewSelect().Model(&out).OrderExpr("name ASC").Scan(ctx)
	return out, ignoreNoRows(err)
}

// MissingProducts reports which of ids are absent from the products table.
func (r *Repository) MissingProducts(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []int64
	err := r.reader.NewSelect().Model((*entity.Product)(nil)).Column("id").Where("id IN (?)", bun.In(ids)).Scan(ctx, &found)
	if err := ignoreNoRows(err); err != nil {
		return nil, err
	}
	present := make(map[int64]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// CreateOptionGroup inserts an option group.
func (r *Repository) CreateOptionGroup(ctx context.Context, g *entity.OptionGroup) error {
	return r.insert(ctx, "option_group", g)
}

// UpdateOptionGroup replaces an option group's fields.
func (r *Repository) UpdateOptionGroup(ctx context.Context, g *entity.OptionGroup) error {
	g.UpdatedAt = time.Now().UTC()
	return r.update(ctx, "option_group", g)
}

// GetOptionGroup loads an option group by id.
func (r *Repository) GetOptionGroup(ctx context.Context, id int64) (*entity.OptionGroup, error) {
	g := new(entity.OptionGroup)
	if err := r.getByID(ctx, g, id); err != nil {
		return nil, err
	}
	return g, nil
}

// DeleteOptionGroup removes an option group.
func (r *Repository) DeleteOptionGroup(ctx context.Context, id int64) error {
	return r.delete(ctx, (*entity.OptionGroup)(nil), id)
}

// ListOptionGroups returns groups by priority, optionally only active ones.
func (r *Repository) ListOptionGroups(ctx context.Context, activeOnly bool) ([]*entity.OptionGroup, error) {
	var out []*entity.OptionGroup
	q := r.reader.NewSelect().Model(&out).OrderExpr("priority ASC, id ASC")
	if activeOnly {
		q.Where("status = ?", entity.CatalogActive)
	}
	return out, ignoreNoRows(q.Scan(ctx))
}

// CreateAddon inserts a meal add-on.
func (r *Repository) CreateAddon(ctx context.Context, a *entity.MealAddon) error {
	return r.insert(ctx, "meal_addon", a)
}

// UpdateAddon replaces a meal add-on's fields.
func (r *Repository) UpdateAddon(ctx context.Context, a *entity.MealAddon) error {
	a.UpdatedAt = time.Now().UTC()
	return r.update(ctx, "meal_addon", a)
}

// GetAddon loads a meal add-on by id.
func (r *Repository) GetAddon(ctx context.Context, id int64) (*entity.MealAddon, error) {
	a := new(entity.MealAddon)
	if err := r.getByID(ctx, a, id); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAddon removes a meal add-on.
func (r *Repository) DeleteAddon(ctx context.Context, id int64) error {
	return r.delete(ctx, (*entity.MealAddon)(nil), id)
}

// ListAddons returns add-ons by name, optionally only active ones.
func (r *Repository) ListAddons(ctx context.Context, activeOnly bool) ([]*entity.MealAddon, error) {
	var out []*entity.MealAddon
	q := r.reader.NewSelect().Model(&out).OrderExpr("name ASC")
	if activeOnly {
		q.Where("status = ?", entity.CatalogActive)
	}
	return out, ignoreNoRows(q.Scan(ctx))
}
