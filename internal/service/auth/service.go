// Package auth implements one-time password login, session tokens and the feed API key.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/satguru/tiffin/internal/cache"
	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/logger"
	"github.com/satguru/tiffin/internal/notify"
	userrepo "github.com/satguru/tiffin/internal/repository/user"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var (
	serviceTracer = otel.Tracer("github.com/satguru/tiffin/service/auth")
	serviceMeter  = otel.Meter("github.com/satguru/tiffin/service/auth")
)

// SettingAPIKey is the settings key holding the order feed API key.
const SettingAPIKey = "sheets_api_key"

// UserStore loads users and settings.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*entity.User, error)
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Service implements authentication.
type Service struct {
	users     UserStore
	cache     cache.Store
	notifier  notify.Notifier
	otp       config.OTP
	auth      config.Auth
	storeName string
	logger    *zap.Logger
	security  *zap.Logger
	hashCost  int
	now       func() time.Time
	otpSent   metric.Int64Counter
	otpFailed metric.Int64Counter
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *userrepo.Repository
	Cache      cache.Store
	Notifier   notify.Notifier
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a Service from Fx dependencies.
func NewService(p Params) *Service {
	return New(p.Repository, p.Cache, p.Notifier, p.Config, p.Logger)
}

// New builds a Service over explicit collaborators.
func New(users UserStore, store cache.Store, notifier notify.Notifier, cfg config.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		users:     users,
		cache:     store,
		notifier:  notifier,
		otp:       cfg.OTP,
		auth:      cfg.Auth,
		storeName: cfg.Store.Name,
		logger:    log.Named("auth"),
		security:  logger.Security(log),
		hashCost:  bcrypt.DefaultCost,
		now:       time.Now,
	}
	var err error
	if s.otpSent, err = serviceMeter.Int64Counter("tiffin.otp.sent"); err != nil {
		s.logger.Warn("create otp sent counter", zap.Error(err))
	}
	if s.otpFailed, err = serviceMeter.Int64Counter("tiffin.otp.failed"); err != nil {
		s.logger.Warn("create otp failed counter", zap.Error(err))
	}
	return s
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// VerifyAPIKey reports whether key matches the stored feed API key. The configured
// key is used until one has been generated.
func (s *Service) VerifyAPIKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	stored, err := s.users.GetSetting(ctx, SettingAPIKey)
	if errors.Is(err, userrepo.ErrNotFound) {
		stored, err = s.auth.APIKey, nil
	}
	if err != nil {
		return false, errorbank.Internal("failed to load api key", errorbank.WithCause(err))
	}
	if stored == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(key)) == 1, nil
}

// RegenerateAPIKey replaces the feed API key with a new random one.
func (s *Service) RegenerateAPIKey(ctx context.Context) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errorbank.Internal("failed to generate api key", errorbank.WithCause(err))
	}
	key := hex.EncodeToString(buf)
	if err := s.users.PutSetting(ctx, SettingAPIKey, key); err != nil {
		return "", errorbank.Internal("failed to store api key", errorbank.WithCause(err))
	}
	s.security.Info("api key regenerated")
	return key, nil
}
