package internal

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware checks for a valid session cookie
func (s *Server) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(sessionCookie)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized: No session found",
			})
		}

		session, err := s.operators.GetSession(cookie.Value)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized: Invalid or expired session",
			})
		}

		// Store session in context for use by handlers
		c.Set("session", session)
		c.Set("operator_id", session.OperatorID)
		c.Set("username", session.Username)

		return next(c)
	}
}

// NoCacheMiddleware adds cache control headers so status responses are
// always fetched fresh
func NoCacheMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
		c.Response().Header().Set("Pragma", "no-cache")
		c.Response().Header().Set("Expires", "0")

		return next(c)
	}
}
