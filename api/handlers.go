package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/ingestion"
	"github.com/poiesic/ragcore/retrieval"
)

// IngestRequest is the body of POST /api/v1/projects/:project/ingest.
type IngestRequest struct {
	URL          string `json:"url"`
	RawText      string `json:"raw_text"`
	ForceRefresh bool   `json:"force_refresh"`
	UserID       string `json:"user_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// IngestResponse is returned once the session is recorded.
type IngestResponse struct {
	SessionID string `json:"session_id"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", "err", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.engine.Ingest(c.Request().Context(), ingestion.Request{
		Scope:        core.TenantScope{ProjectID: c.Param("project"), UserID: req.UserID},
		URL:          req.URL,
		Text:         req.RawText,
		ForceRefresh: req.ForceRefresh,
		SessionID:    req.SessionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, IngestResponse{SessionID: id})
}

func (s *Server) handleGetSession(c echo.Context) error {
	session, err := s.engine.Pipeline().ProjectSession(c.Request().Context(), c.Param("project"), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions, err := s.engine.Pipeline().Sessions(c.Request().Context(), c.Param("project"))
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []*core.IngestionSession{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req retrieval.QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", "err", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.engine.Query(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleCacheStats(c echo.Context) error {
	stats, err := s.engine.Cache().Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCacheInvalidate(c echo.Context) error {
	url := strings.TrimSpace(c.QueryParam("url"))
	if url == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter is required")
	}
	if err := s.engine.Cache().Invalidate(c.Request().Context(), url); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
