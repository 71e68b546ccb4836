package internal

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const sessionCookie = "session_id"

func (s *Server) HandleLogin(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Error:   "Invalid request body",
		})
	}

	// Validate input
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Error:   "Username and password are required",
		})
	}

	operator, err := s.operators.GetOperatorByUsername(req.Username)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, AuthResponse{
			Success: false,
			Error:   "Invalid username or password",
		})
	}

	if !VerifyPassword(operator, req.Password) {
		slog.Warn("Failed login attempt", "username", req.Username)
		return c.JSON(http.StatusUnauthorized, AuthResponse{
			Success: false,
			Error:   "Invalid username or password",
		})
	}

	session, err := s.operators.CreateSession(operator)
	if err != nil {
		slog.Error("Error creating session", "error", err)
		return c.JSON(http.StatusInternalServerError, AuthResponse{
			Success: false,
			Error:   "Failed to create session",
		})
	}

	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    session.ID,
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})

	return c.JSON(http.StatusOK, AuthResponse{
		Success:  true,
		Operator: operator,
		Session:  session,
	})
}

func (s *Server) HandleLogout(c echo.Context) error {
	cookie, err := c.Cookie(sessionCookie)
	if err == nil {
		if err := s.operators.DeleteSession(cookie.Value); err != nil {
			slog.Warn("Failed to delete session", "error", err)
		}
	}

	// Clear cookie
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-1 * time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})

	return c.JSON(http.StatusOK, map[string]bool{
		"success": true,
	})
}

func (s *Server) HandleMe(c echo.Context) error {
	// Get session from context (set by AuthMiddleware)
	session, ok := c.Get("session").(*Session)
	if !ok {
		return c.JSON(http.StatusUnauthorized, AuthResponse{
			Success: false,
			Error:   "Unauthorized",
		})
	}

	operator, err := s.operators.GetOperatorByUsername(session.Username)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, AuthResponse{
			Success: false,
			Error:   "Failed to get operator info",
		})
	}

	return c.JSON(http.StatusOK, AuthResponse{
		Success:  true,
		Operator: operator,
		Session:  session,
	})
}
