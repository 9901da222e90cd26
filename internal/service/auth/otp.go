package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/satguru/tiffin/internal/cache"
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/notify"
	userrepo "github.com/satguru/tiffin/internal/repository/user"
	"github.com/satguru/tiffin/pkg/errorbank"
)

// OTP delivery methods.
const (
	MethodEmail    = "email"
	MethodWhatsApp = "whatsapp"
)

// challenge is a pending OTP login, stored in the cache under its token.
type challenge struct {
	UserID    int64     `json:"user_id"`
	CodeHash  []byte    `json:"code_hash"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SendRequest starts an OTP login.
type SendRequest struct {
	Identifier string `json:"identifier"`
	Method     string `json:"method"`
}

// Challenge describes a sent OTP. Code is only populated in debug mode.
type Challenge struct {
	Token       string    `json:"token"`
	Method      string    `json:"method"`
	Destination string    `json:"destination"`
	ExpiresAt   time.Time `json:"expires_at"`
	Code        string    `json:"code,omitempty"`
}

func challengeKey(token string) string { return "otp:challenge:" + token }
func rateKey(userID int64) string     { return "otp:rate:" + strconv.FormatInt(userID, 10) }
func attemptKey(token string) string   { return "otp:attempts:" + token }

// SendOTP generates a code for the user behind identifier and delivers it.
func (s *Service) SendOTP(ctx context.Context, req SendRequest) (*Challenge, error) {
	ctx, span := serviceTracer.Start(ctx, "AuthService.SendOTP")
	defer span.End()

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		return nil, errorbank.BadRequest("email or phone is required")
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = MethodWhatsApp
		if strings.Contains(identifier, "@") {
			method = MethodEmail
		}
	}
	if method != MethodEmail && method != MethodWhatsApp {
		return nil, errorbank.BadRequest(fmt.Sprintf("unsupported otp method %q", req.Method))
	}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if errors.Is(err, userrepo.ErrNotFound) {
		s.security.Warn("otp requested for unknown account", zap.String("method", method))
		return nil, errorbank.NotFound("no account found for this email or phone")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load account", errorbank.WithCause(err))
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID), attribute.String("otp.method", method))

	destination, err := destinationFor(user, method)
	if err != nil {
		return nil, err
	}
	if err := s.reserveSend(ctx, user.ID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token := uuid.NewString()
	ch := &challenge{UserID: user.ID, Method: method, CreatedAt: now}
	code, err := s.issueCode(ctx, token, ch)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, user, method, destination, code); err != nil {
		_ = s.cache.Delete(ctx, challengeKey(token))
		return nil, err
	}
	return s.describe(token, ch, destination, code), nil
}

// ResendOTP issues a fresh code for an existing challenge.
func (s *Service) ResendOTP(ctx context.Context, token string) (*Challenge, error) {
	ctx, span := serviceTracer.Start(ctx, "AuthService.ResendOTP")
	defer span.End()

	ch, err := s.loadChallenge(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if wait := ch.SentAt.Add(s.otp.ResendCooldown).Sub(now); wait > 0 {
		return nil, errorbank.TooManyRequests("please wait before requesting another code",
			errorbank.WithDetail("retry_after_seconds", int(wait.Seconds())+1))
	}
	user, err := s.users.GetByID(ctx, ch.UserID)
	if err != nil {
		return nil, errorbank.Internal("failed to load account", errorbank.WithCause(err))
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	destination, err := destinationFor(user, ch.Method)
	if err != nil {
		return nil, err
	}
	if err := s.reserveSend(ctx, user.ID); err != nil {
		return nil, err
	}
	code, err := s.issueCode(ctx, token, ch)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, user, ch.Method, destination, code); err != nil {
		return nil, err
	}
	return s.describe(token, ch, destination, code), nil
}

// VerifyOTP checks code against the challenge and opens a session on success.
// The challenge is deleted after MaxAttempts failures.
func (s *Service) VerifyOTP(ctx context.Context, token, code string) (*Session, error) {
	ctx, span := serviceTracer.Start(ctx, "AuthService.VerifyOTP")
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errorbank.BadRequest("code is required")
	}
	ch, err := s.loadChallenge(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", ch.UserID))

	// the counter is claimed before comparing so concurrent guesses each use an attempt
	attempt, err := s.cache.Incr(ctx, attemptKey(token), ch.ExpiresAt.Sub(s.now().UTC()))
	if err != nil {
		return nil, errorbank.Internal("failed to record otp attempt", errorbank.WithCause(err))
	}
	limit := int64(s.otp.MaxAttempts)
	if attempt > limit {
		s.discardChallenge(ctx, token)
		return nil, errorbank.Unauthorized("too many failed attempts, request a new code")
	}

	if bcrypt.CompareHashAndPassword(ch.CodeHash, []byte(code)) != nil {
		s.count(ctx, s.otpFailed)
		if attempt >= limit {
			s.discardChallenge(ctx, token)
			s.security.Warn("otp locked after failed attempts", zap.Int64("user_id", ch.UserID), zap.Int64("attempts", attempt))
			return nil, errorbank.Unauthorized("too many failed attempts, request a new code")
		}
		s.security.Warn("otp verification failed", zap.Int64("user_id", ch.UserID), zap.Int64("attempts", attempt))
		return nil, errorbank.Unauthorized("invalid code",
			errorbank.WithDetail("attempts_remaining", limit-attempt))
	}

	if err := s.cache.Delete(ctx, challengeKey(token)); err != nil {
		s.logger.Error("otp challenge not consumed", zap.Int64("user_id", ch.UserID), zap.Error(err))
		return nil, errorbank.Internal("failed to consume code", errorbank.WithCause(err))
	}
	_ = s.cache.Delete(ctx, attemptKey(token))
	user, err := s.users.GetByID(ctx, ch.UserID)
	if err != nil {
		return nil, errorbank.Internal("failed to load account", errorbank.WithCause(err))
	}
	s.logger.Info("otp login", zap.Int64("user_id", user.ID), zap.String("method", ch.Method))
	return s.IssueToken(user)
}

// CleanupExpired evicts expired challenges from stores that do not expire keys themselves.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	sweeper, ok := s.cache.(cache.Sweeper)
	if !ok {
		return 0, nil
	}
	return sweeper.Sweep(ctx)
}

func destinationFor(user *entity.User, method string) (string, error) {
	switch method {
	case MethodEmail:
		if user.Email == "" {
			return "", errorbank.BadRequest("account has no email address")
		}
		return user.Email, nil
	default:
		if user.Phone == "" {
			return "", errorbank.BadRequest("account has no phone number")
		}
		return user.Phone, nil
	}
}

func (s *Service) reserveSend(ctx context.Context, userID int64) error {
	sent, err := s.cache.Incr(ctx, rateKey(userID), s.otp.SendWindow)
	if err != nil {
		return errorbank.Internal("failed to update otp rate limit", errorbank.WithCause(err))
	}
	if sent > int64(s.otp.SendLimit) {
		s.security.Warn("otp rate limit reached", zap.Int64("user_id", userID), zap.Int64("attempt", sent))
		return errorbank.TooManyRequests("too many codes requested, try again later")
	}
	return nil
}

func (s *Service) issueCode(ctx context.Context, token string, ch *challenge) (string, error) {
	code, err := generateCode(s.otp.Length)
	if err != nil {
		return "", errorbank.Internal("failed to generate code", errorbank.WithCause(err))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return "", errorbank.Internal("failed to hash code", errorbank.WithCause(err))
	}
	now := s.now().UTC()
	ch.CodeHash = hash
	ch.SentAt = now
	ch.ExpiresAt = now.Add(s.otp.TTL)
	if err := s.saveChallenge(ctx, token, ch); err != nil {
		return "", err
	}
	if err := s.cache.Delete(ctx, attemptKey(token)); err != nil {
		s.logger.Warn("otp attempt counter not reset", zap.Error(err))
	}
	return code, nil
}

func (s *Service) discardChallenge(ctx context.Context, token string) {
	if err := s.cache.Delete(ctx, challengeKey(token)); err != nil {
		s.logger.Error("otp challenge not discarded", zap.Error(err))
	}
}

func (s *Service) saveChallenge(ctx context.Context, token string, ch *challenge) error {
	ttl := ch.ExpiresAt.Sub(s.now().UTC())
	if ttl <= 0 {
		return errorbank.Unauthorized("code expired, request a new one")
	}
	payload, err := json.Marshal(ch)
	if err != nil {
		return errorbank.Internal("failed to encode challenge", errorbank.WithCause(err))
	}
	if err := s.cache.Set(ctx, challengeKey(token), payload, ttl); err != nil {
		return errorbank.Internal("failed to store challenge", errorbank.WithCause(err))
	}
	return nil
}

func (s *Service) loadChallenge(ctx context.Context, token string) (*challenge, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, errorbank.Unauthorized("invalid or expired code")
	}
	raw, err := s.cache.Get(ctx, challengeKey(token))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, errorbank.Unauthorized("invalid or expired code")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to read challenge", errorbank.WithCause(err))
	}
	var ch challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, errorbank.Internal("failed to decode challenge", errorbank.WithCause(err))
	}
	if !s.now().UTC().Before(ch.ExpiresAt) {
		_ = s.cache.Delete(ctx, challengeKey(token))
		return nil, errorbank.Unauthorized("invalid or expired code")
	}
	return &ch, nil
}

func (s *Service) deliver(ctx context.Context, user *entity.User, method, destination, code string) error {
	minutes := int(s.otp.TTL / time.Minute)
	body := fmt.Sprintf("Your %s login code is %s. It expires in %d minutes.", s.storeName, code, minutes)
	msg := notify.Message{Channel: notify.ChannelWhatsApp, To: destination, Body: body}
	if method == MethodEmail {
		msg.Channel = notify.ChannelEmail
		msg.Subject = fmt.Sprintf("Your %s login code", s.storeName)
	}

	if s.otp.Debug {
		s.logger.Info("otp issued", zap.Int64("user_id", user.ID), zap.String("code", code))
	}
	if s.notifier == nil || !s.notifier.Enabled(msg.Channel) {
		if s.otp.Debug {
			return nil
		}
		s.count(ctx, s.otpFailed)
		return errorbank.Unprocessable(fmt.Sprintf("%s delivery is not available", method))
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.count(ctx, s.otpFailed)
		trace.SpanFromContext(ctx).RecordError(err)
		return errorbank.Internal("failed to send code", errorbank.WithCause(err))
	}
	s.count(ctx, s.otpSent)
	return nil
}

func (s *Service) describe(token string, ch *challenge, destination, code string) *Challenge {
	out := &Challenge{Token: token, Method: ch.Method, Destination: mask(destination), ExpiresAt: ch.ExpiresAt}
	if s.otp.Debug {
		out.Code = code
	}
	return out
}

// mask hides most of an email address or phone number.
func mask(v string) string {
	if at := strings.IndexByte(v, '@'); at > 0 {
		return v[:1] + strings.Repeat("*", max(at-1, 1)) + v[at:]
	}
	if len(v) <= 4 {
		return v
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}
