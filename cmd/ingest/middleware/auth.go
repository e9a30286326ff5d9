package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/assetingest/common/config"
	"github.com/lyzr/assetingest/common/logger"
	commonmw "github.com/lyzr/assetingest/common/middleware"
)

// UserHeader carries the caller identity in header mode
const UserHeader = "X-User-ID"

// ErrUnauthorized is returned by an Authorizer that rejects the caller
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides who is calling. It returns the principal or an error
// wrapping ErrUnauthorized.
type Authorizer interface {
	Authorize(r *http.Request) (string, error)
}

// HeaderAuthorizer trusts the X-User-ID header set by an upstream gateway
type HeaderAuthorizer struct{}

// Authorize requires a non-empty X-User-ID header
func (HeaderAuthorizer) Authorize(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		return "", fmt.Errorf("%w: %s header is required", ErrUnauthorized, UserHeader)
	}
	return user, nil
}

// JWTAuthorizer accepts HS256 bearer tokens; the subject is the principal
type JWTAuthorizer struct {
	secret []byte
	issuer string
}

// NewJWTAuthorizer creates a bearer token authorizer. An empty issuer
// accepts tokens from any issuer.
func NewJWTAuthorizer(secret, issuer string) *JWTAuthorizer {
	return &JWTAuthorizer{secret: []byte(secret), issuer: issuer}
}

// Authorize validates the Authorization: Bearer token
func (a *JWTAuthorizer) Authorize(r *http.Request) (string, error) {
	header := r.Header.Get(echo.HeaderAuthorization)
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: bearer token is required", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// NewAuthorizer builds the authorizer selected by AUTH_MODE
func NewAuthorizer(cfg config.AuthConfig) (Authorizer, error) {
	switch cfg.Mode {
	case "", "header":
		return HeaderAuthorizer{}, nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, errors.New("jwt auth requires a secret")
		}
		return NewJWTAuthorizer(cfg.JWTSecret, cfg.JWTIssuer), nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.Mode)
	}
}

// RequireAuth rejects unauthorized callers with 401 before any handler runs
// and stores the principal for handlers and the rate limiter.
func RequireAuth(authz Authorizer, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, err := authz.Authorize(c.Request())
			if err != nil {
				log.Debug("request not authorized", "path", c.Path(), "error", err)
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": map[string]interface{}{
						"stage":   "authorize",
						"code":    "unauthorized",
						"message": "authentication required",
					},
				})
			}

			c.Set(commonmw.PrincipalKey, principal)
			return next(c)
		}
	}
}
