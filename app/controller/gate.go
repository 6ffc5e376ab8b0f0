package controller

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SecretHeader carries the shared relay secret on every mail request.
const SecretHeader = "X-Relay-Secret"

// Gate is the origin/auth middleware in front of the mail routes. An empty
// origin list allows any origin; an empty secret disables the header check.
func Gate(secret string, allowedOrigins []string) echo.MiddlewareFunc {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(origins) > 0 {
				origin := c.Request().Header.Get(echo.HeaderOrigin)
				if origin != "" {
					if _, ok := origins[origin]; !ok {
						return c.JSON(http.StatusForbidden, map[string]string{
							"error":  "origin not allowed",
							"detail": origin,
						})
					}
				}
			}

			if secret != "" {
				provided := c.Request().Header.Get(SecretHeader)
				if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
					return c.JSON(http.StatusUnauthorized, map[string]string{
						"error":  "unauthorized",
						"detail": "missing or invalid relay secret",
					})
				}
			}

			return next(c)
		}
	}
}
