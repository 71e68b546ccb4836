package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
)

// SnapshotSource provides the latest monitor state
type SnapshotSource interface {
	Snapshot() (*StatusSnapshot, bool)
}

// ServerConfig tunes the operator API
type ServerConfig struct {
	// HeartbeatStale is the heartbeat age that fails the health check
	HeartbeatStale time.Duration
	CORSOrigins    []string
	VersionFile    string
}

// Server is the operator HTTP API
type Server struct {
	cfg        ServerConfig
	operators  *OperatorStore
	queue      *RequestQueue
	accounting *Accounting
	monitor    SnapshotSource
	notifier   Notifier
	clock      Clock
}

func NewServer(cfg ServerConfig, operators *OperatorStore, queue *RequestQueue, accounting *Accounting, monitor SnapshotSource, notifier Notifier, clock Clock) *Server {
	return &Server{
		cfg:        cfg,
		operators:  operators,
		queue:      queue,
		accounting: accounting,
		monitor:    monitor,
		notifier:   notifier,
		clock:      clock,
	}
}

// Register mounts the API routes on e
func (s *Server) Register(e *echo.Echo) {
	e.Use(CustomCORSMiddleware(s.cfg.CORSOrigins))

	// Public routes (no authentication required)
	e.POST("/api/auth/login", s.HandleLogin, NoCacheMiddleware)
	e.POST("/api/auth/logout", s.HandleLogout, NoCacheMiddleware)
	e.GET("/api/health", s.HandleHealth, NoCacheMiddleware)
	e.GET("/api/version", s.HandleVersion)

	// Protected routes (authentication required)
	protected := e.Group("/api")
	protected.Use(s.AuthMiddleware)
	protected.Use(NoCacheMiddleware)

	protected.GET("/auth/me", s.HandleMe)
	protected.POST("/requests", s.HandleCreateRequest)
	protected.GET("/requests/:id", s.HandleGetRequest)
	protected.GET("/status", s.HandleStatus)
}

// HandleCreateRequest queues an operator request. Only one request can wait
// at a time.
func (s *Server) HandleCreateRequest(c echo.Context) error {
	var body CreateRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, CreateRequestResponse{
			Success: false,
			Error:   "Invalid request body",
		})
	}

	username, _ := c.Get("username").(string)
	req, err := body.toRequest(username)
	if err != nil {
		return c.JSON(http.StatusBadRequest, CreateRequestResponse{
			Success: false,
			Error:   err.Error(),
		})
	}
	req.Reply = NewNotifierReply(s.notifier)

	if err := s.queue.Submit(c.Request().Context(), req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrRequestPending) {
			status = http.StatusConflict
		}
		return c.JSON(status, CreateRequestResponse{
			Success: false,
			Error:   err.Error(),
		})
	}

	return c.JSON(http.StatusAccepted, CreateRequestResponse{
		Success: true,
		ID:      req.ID,
	})
}

// HandleGetRequest returns the lifecycle of a recent request
func (s *Server) HandleGetRequest(c echo.Context) error {
	history, ok := s.queue.History(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Request not found",
		})
	}
	return c.JSON(http.StatusOK, history)
}

// HandleStatus returns the call state and today's counters
func (s *Server) HandleStatus(c echo.Context) error {
	resp := StatusResponse{
		Counters: CountersResponse{
			DailyCallsDuration:   s.accounting.DailyCallsDuration(),
			WeeklyCallsDuration:  s.accounting.WeeklyCallsDuration(),
			OverallCallsDuration: s.accounting.OverallCallsDuration(),
			DailyRepairs:         s.accounting.DailyRepairs(),
			DailyOKCalls:         s.accounting.DailyOKCalls(),
			DailyFailedCalls:     s.accounting.DailyFailedCalls(),
			OpeningBalance:       s.accounting.OpeningBalance(),
		},
	}
	if t, ok := s.accounting.MonitorHeartbeat(); ok {
		resp.Counters.Heartbeat = &t
	}
	if t, ok := s.accounting.DailySummarySent(); ok {
		resp.Counters.DailySummarySent = &t
	}
	if s.monitor != nil {
		if snap, ok := s.monitor.Snapshot(); ok {
			resp.Monitor = snap
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleHealth fails when the monitor has not completed a health check
// recently
func (s *Server) HandleHealth(c echo.Context) error {
	heartbeat, ok := s.accounting.MonitorHeartbeat()
	if !ok || s.clock.Now().Sub(heartbeat) > s.cfg.HeartbeatStale {
		slog.Warn("Monitor heartbeat is stale", "heartbeat", heartbeat)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":    "stale",
			"heartbeat": heartbeat,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"heartbeat": heartbeat,
	})
}

// HandleVersion returns the application version
func (s *Server) HandleVersion(c echo.Context) error {
	// Try to read version from version.json file first (Docker builds)
	if s.cfg.VersionFile != "" {
		if data, err := os.ReadFile(s.cfg.VersionFile); err == nil {
			var versionData map[string]string
			if err := json.Unmarshal(data, &versionData); err == nil {
				return c.JSON(http.StatusOK, versionData)
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"version": "dev",
	})
}
