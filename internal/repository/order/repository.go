package order

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/satguru/tiffin/internal/database"
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/pkg/calendar"
)

var repoTracer = otel.Tracer("github.com/satguru/tiffin/repository/order")

var (
	// ErrNotFound is returned when an order is missing.
	ErrNotFound = errors.New("order not found")
	// ErrVersionConflict is returned when an order changed since it was read.
	ErrVersionConflict = errors.New("order version conflict")
)

// Filter narrows order listings.
type Filter struct {
	Statuses    []string
	Search      string
	UserID      *int64
	CreatedFrom time.Time
	CreatedTo   time.Time
	IDs         []int64
	Paused      bool // paused, or processing with scheduled pause dates
	Limit       int
	Offset      int
}

// Repository encapsulates read/write access for orders.
type Repository struct {
	conns  *database.Connections
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		conns:  conns,
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// Create persists a new order and its items in one transaction.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.number", order.Number)))
	defer span.End()

	err := r.conns.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return nil
		}
		for _, item := range order.Items {
			item.OrderID = order.ID
		}
		_, err := tx.NewInsert().Model(&order.Items).Exec(ctx)
		return err
	})
	if err != nil {
		fail(span, err, "insert failed")
	}
	return err
}

// GetByID fetches an order with its items using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	return r.getOne(ctx, span, r.reader, "o.id = ?", id)
}

// GetFresh reads the order from the writer, bypassing replica lag before a compare-and-swap.
func (r *Repository) GetFresh(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetFresh", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	return r.getOne(ctx, span, r.writer, "o.id = ?", id)
}

// GetByToken fetches an order by its customer access token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByToken")
	defer span.End()

	return r.getOne(ctx, span, r.reader, "o.access_token = ?", token)
}

func (r *Repository) getOne(ctx context.Context, span trace.Span, db *bun.DB, where string, arg any) (*entity.Order, error) {
	order := new(entity.Order)
	err := db.NewSelect().Model(order).Relation("Items").Where(where, arg).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return order, nil
}

// List returns orders matching the filter and the total number of matches.
func (r *Repository) List(ctx context.Context, f Filter) ([]*entity.Order, int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	var orders []*entity.Order
	q := r.reader.NewSelect().Model(&orders).Relation("Items").OrderExpr("o.id DESC")
	applyFilter(q, f)
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	count, err := q.ScanAndCount(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		fail(span, err, "select failed")
		return nil, 0, err
	}
	span.SetAttributes(attribute.Int("orders.count", count))
	return orders, count, nil
}

func applyFilter(q *bun.SelectQuery, f Filter) {
	if len(f.Statuses) > 0 {
		q.Where("o.status IN (?)", bun.In(f.Statuses))
	}
	if len(f.IDs) > 0 {
		q.Where("o.id IN (?)", bun.In(f.IDs))
	}
	if f.UserID != nil {
		q.Where("o.user_id = ?", *f.UserID)
	}
	if f.Paused {
		q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("o.status = ?", entity.StatusPaused).
				WhereOr("o.status = ? AND o.scheduled_pause_dates <> ?", entity.StatusProcessing, "[]")
		})
	}
	if !f.CreatedFrom.IsZero() {
		q.Where("o.created_at >= ?", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		q.Where("o.created_at < ?", f.CreatedTo)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(o.customer_name) LIKE ?", like).
				WhereOr("LOWER(o.email) LIKE ?", like).
				WhereOr("o.phone LIKE ?", like).
				WhereOr("LOWER(o.number) LIKE ?", like)
		})
	}
}

// StateChange is a compare-and-swap update of an order.
type StateChange struct {
	Order           *entity.Order
	ExpectedVersion int64
	Note            string
	Author          string
}

// mutableColumns are the columns ApplyState writes. Number, token, owner, total and items
// are fixed at checkout.
var mutableColumns = []string{
	"customer_name", "phone", "email", "address", "city", "postal_code",
	"billing_address", "shipping_address", "delivery_method", "payment_method", "customer_note",
	"status", "paused_dates", "scheduled_pause_dates", "skipped_dates", "renewal_reminded_at",
	"version", "updated_at",
}

// ApplyState writes the editable fields of the order when its stored version still equals
// ExpectedVersion, appending the note in the same transaction. On success the order carries
// the new version.
func (r *Repository) ApplyState(ctx context.Context, change StateChange) error {
	order := change.Order
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ApplyState", trace.WithAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.String("order.status", order.Status),
	))
	defer span.End()

	prevVersion, prevUpdated := order.Version, order.UpdatedAt
	now := time.Now().UTC()
	order.Version = change.ExpectedVersion + 1
	order.UpdatedAt = now

	err := r.conns.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(order).
			Column(mutableColumns...).
			Where("o.id = ?", order.ID).
			Where("o.version = ?", change.ExpectedVersion).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrVersionConflict
		}
		if change.Note == "" {
			return nil
		}
		note := &entity.OrderNote{OrderID: order.ID, Note: change.Note, Author: change.Author, CreatedAt: now}
		_, err = tx.NewInsert().Model(note).Exec(ctx)
		return err
	})
	if err != nil {
		order.Version, order.UpdatedAt = prevVersion, prevUpdated
		if !errors.Is(err, ErrVersionConflict) {
			fail(span, err, "update failed")
		}
		return err
	}
	return nil
}

// AddNote appends a history note.
func (r *Repository) AddNote(ctx context.Context, note *entity.OrderNote) error {
	_, err := r.writer.NewInsert().Model(note).Exec(ctx)
	return err
}

// Notes returns the history of an order, newest first.
func (r *Repository) Notes(ctx context.Context, orderID int64) ([]*entity.OrderNote, error) {
	var notes []*entity.OrderNote
	err := r.reader.NewSelect().Model(&notes).Where("n.order_id = ?", orderID).OrderExpr("n.id DESC").Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return notes, nil
}

// WithScheduledPauses returns orders holding scheduled pause dates.
func (r *Repository) WithScheduledPauses(ctx context.Context) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.WithScheduledPauses")
	defer span.End()

	var orders []*entity.Order
	err := r.writer.NewSelect().Model(&orders).Relation("Items").
		Where("o.scheduled_pause_dates <> ?", "[]").
		Where("o.status IN (?)", bun.In([]string{entity.StatusProcessing, entity.StatusPaused})).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// ByStatus returns every order in one of the given statuses.
func (r *Repository) ByStatus(ctx context.Context, statuses ...string) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ByStatus")
	defer span.End()

	var orders []*entity.Order
	err := r.writer.NewSelect().Model(&orders).Relation("Items").
		Where("o.status IN (?)", bun.In(statuses)).
		OrderExpr("o.id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// SaveSnapshots upserts the daily tiffin counters.
func (r *Repository) SaveSnapshots(ctx context.Context, snapshots []*entity.TiffinSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.SaveSnapshots", trace.WithAttributes(attribute.Int("snapshots", len(snapshots))))
	defer span.End()

	return r.conns.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		for _, s := range snapshots {
			_, err := tx.NewDelete().Model((*entity.TiffinSnapshot)(nil)).
				Where("order_id = ?", s.OrderID).
				Where("snapshot_date = ?", s.SnapshotDate).
				Exec(ctx)
			if err != nil {
				fail(span, err, "delete failed")
				return err
			}
			if _, err := tx.NewInsert().Model(s).Exec(ctx); err != nil {
				fail(span, err, "insert failed")
				return err
			}
		}
		return nil
	})
}

// Snapshots returns the counter history of an order within [from, to].
func (r *Repository) Snapshots(ctx context.Context, orderID int64, from, to calendar.Date) ([]*entity.TiffinSnapshot, error) {
	var out []*entity.TiffinSnapshot
	q := r.reader.NewSelect().Model(&out).Where("th.order_id = ?", orderID).OrderExpr("th.snapshot_date ASC")
	if !from.IsZero() {
		q.Where("th.snapshot_date >= ?", from)
	}
	if !to.IsZero() {
		q.Where("th.snapshot_date <= ?", to)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
