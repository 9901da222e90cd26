package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/satguru/tiffin/internal/database"
	"github.com/satguru/tiffin/internal/entity"
)

var repoTracer = otel.Tracer("github.com/satguru/tiffin/repository/user")

// ErrNotFound is returned when a user or setting is missing.
var ErrNotFound = errors.New("user not found")

// Repository stores users and settings.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// Create inserts a user.
func (r *Repository) Create(ctx context.Context, u *entity.User) error {
	_, err := r.writer.NewInsert().Model(u).Exec(ctx)
	return err
}

// GetByID loads a user.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.one(ctx, "u.id = ?", id)
}

// FindByIdentifier loads a user by email (case-insensitive) or phone.
func (r *Repository) FindByIdentifier(ctx context.Context, identifier string) (*entity.User, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return r.one(ctx, "LOWER(u.email) = ?", strings.ToLower(identifier))
	}
	return r.one(ctx, "u.phone = ?", identifier)
}

func (r *Repository) one(ctx context.Context, where string, arg any) (*entity.User, error) {
	ctx, span := repoTracer.Start(ctx, "UserRepository.Get")
	defer span.End()

	u := new(entity.User)
	err := r.reader.NewSelect().Model(u).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return u, nil
}

// GetSetting reads a setting value.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	s := new(entity.Setting)
	err := r.writer.NewSelect().Model(s).Where("s.key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

// PutSetting stores a setting value, replacing any previous one.
func (r *Repository) PutSetting(ctx context.Context, key, value string) error {
	return r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*entity.Setting)(nil)).Where("? = ?", bun.Ident("key"), key).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&entity.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}).Exec(ctx)
		return err
	})
}
