// Package middleware authenticates HTTP callers and enforces role capabilities.
package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/logger"
	"github.com/satguru/tiffin/internal/presentation/http/response"
	authsvc "github.com/satguru/tiffin/internal/service/auth"
	"github.com/satguru/tiffin/pkg/errorbank"
)

const (
	claimsKey = "auth.claims"

	// HeaderAPIKey carries the order feed key.
	HeaderAPIKey = "X-API-Key"
	queryAPIKey  = "api_key"
)

// Tokens parses session tokens.
type Tokens interface {
	ParseToken(raw string) (*authsvc.Claims, error)
}

// APIKeys verifies feed API keys.
type APIKeys interface {
	VerifyAPIKey(ctx context.Context, key string) (bool, error)
}

// Enforcer answers capability checks.
type Enforcer interface {
	Can(role, obj, act string) (bool, error)
}

// Params defines dependencies for the Guard.
type Params struct {
	fx.In

	Auth       *authsvc.Service
	Authorizer *authz.Authorizer
	Logger     *zap.Logger
}

// Module provides the Guard to Fx.
var Module = fx.Provide(NewGuard)

// Guard builds authentication and authorization middleware.
type Guard struct {
	tokens   Tokens
	keys     APIKeys
	enforcer Enforcer
	security *zap.Logger
}

// NewGuard wires a Guard from Fx dependencies.
func NewGuard(p Params) *Guard {
	return New(p.Auth, p.Auth, p.Authorizer, p.Logger)
}

// New builds a Guard over explicit collaborators.
func New(tokens Tokens, keys APIKeys, enforcer Enforcer, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{tokens: tokens, keys: keys, enforcer: enforcer, security: logger.Security(log)}
}

// ClaimsFrom returns the session claims stored by the guard.
func ClaimsFrom(c echo.Context) (*authsvc.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*authsvc.Claims)
	return claims, ok && claims != nil
}

// Actor names the caller in order history.
func Actor(c echo.Context) string {
	if claims, ok := ClaimsFrom(c); ok {
		return claims.Role + ":" + claims.Subject
	}
	return "api"
}

func bearer(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (g *Guard) authenticate(c echo.Context) (*authsvc.Claims, error) {
	if claims, ok := ClaimsFrom(c); ok {
		return claims, nil
	}
	raw := bearer(c)
	if raw == "" {
		return nil, errorbank.Unauthorized("authentication required")
	}
	claims, err := g.tokens.ParseToken(raw)
	if err != nil {
		g.security.Warn("rejected session token", zap.String("path", c.Path()), zap.String("ip", c.RealIP()))
		return nil, err
	}
	c.Set(claimsKey, claims)
	return claims, nil
}

func (g *Guard) authorize(c echo.Context, role, obj, act string) error {
	allowed, err := g.enforcer.Can(role, obj, act)
	if err != nil {
		return errorbank.Internal("permission check failed", errorbank.WithCause(err))
	}
	if !allowed {
		g.security.Warn("access denied",
			zap.String("role", role),
			zap.String("resource", obj),
			zap.String("action", act),
			zap.String("path", c.Path()))
		return errorbank.Forbidden("you do not have permission to perform this action")
	}
	return nil
}

// Authenticate requires a valid session token.
func (g *Guard) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := g.authenticate(c); err != nil {
				return response.New(c).WithError(err).Build()
			}
			return next(c)
		}
	}
}

// Require requires a session whose role may perform act on obj.
func (g *Guard) Require(obj, act string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := g.authenticate(c)
			if err == nil {
				err = g.authorize(c, claims.Role, obj, act)
			}
			if err != nil {
				return response.New(c).WithError(err).Build()
			}
			return next(c)
		}
	}
}

// APIKeyOr accepts a valid feed API key, or else a session allowed to perform act on obj.
func (g *Guard) APIKeyOr(obj, act string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderAPIKey)
			if key == "" {
				key = c.QueryParam(queryAPIKey)
			}
			if key == "" {
				claims, err := g.authenticate(c)
				if err == nil {
					err = g.authorize(c, claims.Role, obj, act)
				}
				if err != nil {
					return response.New(c).WithError(err).Build()
				}
				return next(c)
			}

			ok, err := g.keys.VerifyAPIKey(c.Request().Context(), key)
			if err != nil {
				return response.New(c).WithError(err).Build()
			}
			if !ok {
				g.security.Warn("rejected api key", zap.String("path", c.Path()), zap.String("ip", c.RealIP()))
				return response.New(c).WithError(errorbank.Unauthorized("invalid api key")).Build()
			}
			if err := g.authorize(c, authz.RoleService, obj, act); err != nil {
				return response.New(c).WithError(err).Build()
			}
			return next(c)
		}
	}
}
