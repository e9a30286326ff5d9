package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/assetingest/common/config"
	"github.com/lyzr/assetingest/common/logger"
	commonmw "github.com/lyzr/assetingest/common/middleware"
)

const testSecret = "s3cret-for-tests"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func runAuth(t *testing.T, authz Authorizer, setup func(r *http.Request)) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil)
	setup(req)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	h := RequireAuth(authz, logger.Discard())(func(c echo.Context) error {
		seen = commonmw.Principal(c)
		return c.NoContent(http.StatusNoContent)
	})
	require.NoError(t, h(c))
	return rec, seen
}

func TestHeaderAuthorizer(t *testing.T) {
	rec, principal := runAuth(t, HeaderAuthorizer{}, func(r *http.Request) {
		r.Header.Set(UserHeader, "alice")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", principal)

	rec, principal = runAuth(t, HeaderAuthorizer{}, func(r *http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, principal)
	assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
}

func TestJWTAuthorizer(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "bob",
		Issuer:    "assetingest",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name      string
		header    string
		wantCode  int
		principal string
	}{
		{
			name:      "valid token",
			header:    "Bearer " + signToken(t, testSecret, valid),
			wantCode:  http.StatusNoContent,
			principal: "bob",
		},
		{
			name:     "missing header",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "wrong scheme",
			header:   "Basic Ym9iOnB3",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "wrong secret",
			header:   "Bearer " + signToken(t, "other", valid),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "expired",
			header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
				Subject:   "bob",
				Issuer:    "assetingest",
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "wrong issuer",
			header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
				Subject: "bob",
				Issuer:  "someone-else",
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "no subject",
			header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
				Issuer: "assetingest",
			}),
			wantCode: http.StatusUnauthorized,
		},
	}

	authz := NewJWTAuthorizer(testSecret, "assetingest")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, principal := runAuth(t, authz, func(r *http.Request) {
				if tt.header != "" {
					r.Header.Set(echo.HeaderAuthorization, tt.header)
				}
			})
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.principal, principal)
		})
	}
}

func TestJWTAuthorizer_RejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "bob"}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)

	_, err = NewJWTAuthorizer(testSecret, "").Authorize(req)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewAuthorizer(t *testing.T) {
	a, err := NewAuthorizer(config.AuthConfig{Mode: "header"})
	require.NoError(t, err)
	assert.IsType(t, HeaderAuthorizer{}, a)

	a, err = NewAuthorizer(config.AuthConfig{Mode: "jwt", JWTSecret: testSecret})
	require.NoError(t, err)
	assert.IsType(t, &JWTAuthorizer{}, a)

	_, err = NewAuthorizer(config.AuthConfig{Mode: "jwt"})
	assert.Error(t, err)

	_, err = NewAuthorizer(config.AuthConfig{Mode: "oauth"})
	assert.Error(t, err)
}
