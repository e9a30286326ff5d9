package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/metrics"
	"github.com/lyzr/assetingest/common/ratelimit"
)

// PrincipalKey is the echo context key the auth middleware stores the caller under
const PrincipalKey = "principal"

// Principal returns the authenticated caller, or "" when none was set
func Principal(c echo.Context) string {
	p, _ := c.Get(PrincipalKey).(string)
	return p
}

// UploadRateLimitMiddleware applies the per-principal upload allowance.
// Requests without a principal pass through; limiter errors fail open.
func UploadRateLimitMiddleware(limiter ratelimit.Limiter, m *metrics.Metrics, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal := Principal(c)
			if principal == "" {
				return next(c)
			}

			result, err := limiter.Allow(c.Request().Context(), principal)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", "principal", principal, "error", err)
				return next(c)
			}

			if !result.Allowed {
				m.IncRateLimited()
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error": map[string]interface{}{
						"stage":   "admission",
						"code":    "rate_limited",
						"message": "upload quota exceeded, retry later",
						"details": map[string]interface{}{
							"limit":               result.Limit,
							"retry_after_seconds": result.RetryAfterSeconds,
						},
					},
				})
			}

			return next(c)
		}
	}
}
