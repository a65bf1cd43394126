package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const identityKey contextKey = "authIdentity"

const (
	// CredentialsMessage is the uniform body for rejected tokens.
	CredentialsMessage = "Could not validate credentials"
	// LoginMessage is the uniform body for rejected username/password pairs.
	LoginMessage = "Incorrect username or password"
)

// Resolver maps bearer tokens to identities.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// GetIdentity retrieves the authenticated caller from context.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	if value, ok := ctx.Value(identityKey).(*Identity); ok && value != nil {
		return value, true
	}
	return nil, false
}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// JWTMiddleware validates bearer tokens and injects the caller's identity.
func JWTMiddleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			Unauthorized(c, CredentialsMessage)
			return
		}

		identity, err := resolver.Resolve(c.Request.Context(), tokenString)
		if err != nil || identity == nil {
			Unauthorized(c, CredentialsMessage)
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Set(string(identityKey), identity)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

// Unauthorized aborts with 401 and the bearer challenge header.
func Unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
