package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/featurescope/internal/users"
)

// ErrUnauthorized is returned for every credential or token failure so callers
// cannot tell which check rejected the request.
var ErrUnauthorized = errors.New("unauthorized")

// TokenType is reported alongside issued access tokens.
const TokenType = "bearer"

// Identity is the authenticated caller.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UserLookup finds user records by username.
type UserLookup interface {
	Lookup(ctx context.Context, username string) (*users.User, error)
}

// Claims carries the subject in RegisteredClaims plus the user's role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Service exchanges credentials for signed tokens and resolves tokens back to identities.
type Service struct {
	users  UserLookup
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewService builds a Service signing HS256 tokens with secret that expire after ttl.
func NewService(lookup UserLookup, secret string, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		users:  lookup,
		secret: []byte(strings.TrimSpace(secret)),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("auth"),
	}
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// IssueToken verifies the credentials and returns a signed access token.
func (s *Service) IssueToken(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.Lookup(ctx, username)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			s.logger.Error("user lookup failed", zap.String("username", username), zap.Error(err))
		}
		return "", ErrUnauthorized
	}
	if !user.CheckPassword(password) {
		s.logger.Debug("password mismatch", zap.String("username", username))
		return "", ErrUnauthorized
	}
	return s.sign(user.Username, user.Role)
}

func (s *Service) sign(subject, role string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseClaims validates signature and expiry and returns the token claims.
func (s *Service) ParseClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Resolve maps a bearer token to the identity of a user that still exists in the store.
func (s *Service) Resolve(ctx context.Context, tokenString string) (*Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.ParseClaims(tokenString)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	user, err := s.users.Lookup(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			s.logger.Error("user lookup failed", zap.String("username", claims.Subject), zap.Error(err))
		}
		return nil, ErrUnauthorized
	}
	return &Identity{Username: user.Username, Role: user.Role}, nil
}
