// Package api exposes the HTTP surface: match listings and explanations for
// the product backend, source status for dashboards, and admin triggers for
// ingestion and enrichment.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/paul828919/CONNECT-sub002/internal/auth"
	"github.com/paul828919/CONNECT-sub002/internal/db"
	"github.com/paul828919/CONNECT-sub002/internal/events"
	"github.com/paul828919/CONNECT-sub002/internal/ingest"
	"github.com/paul828919/CONNECT-sub002/internal/match"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// Suspensions reports whether a source is currently on a politeness
// cooldown. Satisfied by the fetcher.
type Suspensions interface {
	SuspendedUntil(sourceID string) time.Time
}

type Server struct {
	Store       *db.Store
	Pipeline    *ingest.Pipeline
	Matches     *match.Service
	Hub         *events.Hub
	Suspensions Suspensions
	Registry    *ingest.Registry
	Echo        *echo.Echo
}

func NewServer(store *db.Store, pipeline *ingest.Pipeline, matches *match.Service, hub *events.Hub, suspensions Suspensions, registry *ingest.Registry) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		Store:       store,
		Pipeline:    pipeline,
		Matches:     matches,
		Hub:         hub,
		Suspensions: suspensions,
		Registry:    registry,
		Echo:        e,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.Use(auth.Middleware)
	api.GET("/orgs/:orgId/matches", s.handleOrgMatches)
	api.GET("/matches/:id/explain", s.handleExplainMatch)
	api.GET("/sources/:id/status", s.handleSourceStatus)
	api.POST("/hooks/org-profile", s.handleOrgProfileHook)

	admin := api.Group("/admin")
	admin.Use(auth.RequireAdmin)
	admin.POST("/ingest/source/:id", s.handleIngestSource)
	admin.POST("/ingest/all", s.handleIngestAll)
	admin.POST("/enrich", s.handleEnrich)
	admin.GET("/queue/jobs", s.handleQueueJobs)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleOrgMatches serves the paginated match listing for one organization.
// Ingestion or extraction trouble never surfaces here; the listing reflects
// whatever was last persisted.
func (s *Server) handleOrgMatches(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("orgId"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid organization ID"})
	}

	opts := match.ListOptions{}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		opts.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		opts.Offset = o
	}
	if v, err := strconv.Atoi(c.QueryParam("min_score")); err == nil && v > 0 && v <= 100 {
		opts.MinScore = v
	}
	if raw := strings.TrimSpace(c.QueryParam("last_updated")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "last_updated must be RFC3339"})
		}
		opts.Since = &since
	}

	page, err := s.Matches.MatchesForOrg(c.Request().Context(), orgID, opts)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Organization not found"})
		}
		c.Logger().Errorf("listing matches for org %s: %v", orgID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleExplainMatch(c echo.Context) error {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid match ID"})
	}

	explanation, err := s.Matches.Explain(c.Request().Context(), matchID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Match not found"})
		}
		c.Logger().Errorf("explaining match %s: %v", matchID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, explanation)
}

func (s *Server) handleSourceStatus(c echo.Context) error {
	sourceID := c.Param("id")
	if _, err := s.Registry.Find(sourceID); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown source"})
	}

	status, err := s.Store.SourceStatus(c.Request().Context(), sourceID)
	if err != nil {
		c.Logger().Errorf("source status for %s: %v", sourceID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	if s.Suspensions != nil {
		if until := s.Suspensions.SuspendedUntil(sourceID); !until.IsZero() {
			status.SuspendedUntil = &until
		}
	}
	return c.JSON(http.StatusOK, status)
}

// handleOrgProfileHook is called by the profile service when an organization
// profile changes. Publishing the event evicts that org's cached matches.
func (s *Server) handleOrgProfileHook(c echo.Context) error {
	var req struct {
		OrgID uuid.UUID `json:"org_id"`
	}
	if err := c.Bind(&req); err != nil || req.OrgID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "org_id required"})
	}
	s.Hub.Publish(events.Event{Kind: events.OrgProfileUpdated, OrgID: req.OrgID})
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleIngestSource(c echo.Context) error {
	sourceID := c.Param("id")
	stats, err := s.Pipeline.IngestSource(c.Request().Context(), sourceID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"stats": stats,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": sourceID + " ingestion complete",
		"stats":   stats,
	})
}

func (s *Server) handleIngestAll(c echo.Context) error {
	results, err := s.Pipeline.IngestAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"results": results,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "All registry sources ingestion complete",
		"results": results,
	})
}

func (s *Server) handleEnrich(c echo.Context) error {
	agencyID := strings.TrimSpace(c.QueryParam("agency"))
	limit := 200
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 2000 {
			limit = parsed
		}
	}

	stats, err := s.Pipeline.EnrichPrograms(c.Request().Context(), agencyID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Enrichment complete",
		"stats":   stats,
	})
}

func (s *Server) handleQueueJobs(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	jobs, err := s.Store.ListRecentJobs(c.Request().Context(), limit)
	if err != nil {
		c.Logger().Errorf("listing jobs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	if jobs == nil {
		jobs = []models.ScrapeJob{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}
