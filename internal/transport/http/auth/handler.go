// Package auth exposes OTP login and API key management over HTTP.
package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/presentation/http/response"
	service "github.com/satguru/tiffin/internal/service/auth"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/satguru/tiffin/transport/http/auth")

// Authenticator is the login surface exposed over HTTP.
type Authenticator interface {
	SendOTP(ctx context.Context, req service.SendRequest) (*service.Challenge, error)
	ResendOTP(ctx context.Context, token string) (*service.Challenge, error)
	VerifyOTP(ctx context.Context, token, code string) (*service.Session, error)
	RegenerateAPIKey(ctx context.Context) (string, error)
}

// Handler serves the login endpoints.
type Handler struct {
	svc Authenticator
}

// Params defines dependencies for the auth Handler.
type Params struct {
	fx.In

	Service *service.Service
}

// Module wires HTTP auth handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// NewHandler constructs a Handler from Fx dependencies.
func NewHandler(p Params) *Handler {
	return New(p.Service)
}

// New constructs a Handler over svc.
func New(svc Authenticator) *Handler {
	return &Handler{svc: svc}
}

// Register routes on e, guarded by g.
func Register(e *echo.Echo, g *middleware.Guard, h *Handler) {
	otp := e.Group("/auth/otp")
	otp.POST("/send", h.send)
	otp.POST("/verify", h.verify)
	otp.POST("/resend", h.resend)

	e.POST("/admin/api-key/regenerate", h.regenerateAPIKey, g.Require(authz.ResourceSettings, authz.ActionWrite))
}

func (h *Handler) send(c echo.Context) error {
	b := response.New(c)

	var req service.SendRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		return b.WithError(errorbank.BadRequest("email or phone is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auth.sendOTP")
	defer span.End()
	span.SetAttributes(attribute.String("otp.method", req.Method))

	challenge, err := h.svc.SendOTP(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(challenge).Build()
}

func (h *Handler) verify(c echo.Context) error {
	b := response.New(c)

	var payload struct {
		Token string `json:"token"`
		Code  string `json:"code"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.Token == "" || strings.TrimSpace(payload.Code) == "" {
		return b.WithError(errorbank.BadRequest("token and code are required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auth.verifyOTP")
	defer span.End()

	session, err := h.svc.VerifyOTP(ctx, payload.Token, strings.TrimSpace(payload.Code))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(session).Build()
}

func (h *Handler) resend(c echo.Context) error {
	b := response.New(c)

	var payload struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.Token == "" {
		return b.WithError(errorbank.BadRequest("token is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auth.resendOTP")
	defer span.End()

	challenge, err := h.svc.ResendOTP(ctx, payload.Token)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(challenge).Build()
}

func (h *Handler) regenerateAPIKey(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "auth.regenerateAPIKey")
	defer span.End()

	key, err := h.svc.RegenerateAPIKey(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]string{"api_key": key}).Build()
}
