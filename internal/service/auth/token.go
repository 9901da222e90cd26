package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/pkg/errorbank"
)

// Claims are carried by session tokens.
type Claims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Session is returned after a successful login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *entity.User `json:"user"`
}

// IssueToken signs a session token for user.
func (s *Service) IssueToken(user *entity.User) (*Session, error) {
	now := s.now()
	expires := now.Add(s.auth.TokenTTL)
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.auth.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.auth.JWTSecret))
	if err != nil {
		return nil, errorbank.Internal("failed to sign session token", errorbank.WithCause(err))
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// ParseToken validates a session token and returns its claims.
func (s *Service) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.auth.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.auth.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errorbank.Unauthorized("session expired")
		}
		return nil, errorbank.Unauthorized("invalid session token")
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, errorbank.Unauthorized("invalid session token")
	}
	return claims, nil
}
