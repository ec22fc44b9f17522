// Package admin exposes the operational HTTP API: manual triggers,
// run inspection, source health, and catalog search.
package admin

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"licitascan/models"
	"licitascan/scheduler"
	"licitascan/services"
	"licitascan/storage"
)

type Server struct {
	store     *storage.PostgresStore
	scheduler *scheduler.Scheduler
	dedup     *services.DedupService
	validity  *services.ValidityService
	matcher   *services.MatcherService
	workflow  *services.WorkflowService
	urls      *services.URLService

	httpServer *http.Server
}

func NewServer(
	addr string,
	store *storage.PostgresStore,
	sched *scheduler.Scheduler,
	dedup *services.DedupService,
	validity *services.ValidityService,
	matcher *services.MatcherService,
	workflow *services.WorkflowService,
	urls *services.URLService,
) *Server {
	s := &Server{
		store:     store,
		scheduler: sched,
		dedup:     dedup,
		validity:  validity,
		matcher:   matcher,
		workflow:  workflow,
		urls:      urls,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	api.POST("/sources/:name/trigger", s.triggerSource)
	api.GET("/sources/health", s.sourceHealth)

	api.GET("/scheduler", s.schedulerStatus)
	api.POST("/scheduler/pause", s.pauseScheduler)
	api.POST("/scheduler/resume", s.resumeScheduler)

	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)

	api.GET("/listings", s.searchListings)
	api.POST("/listings/:id/workflow", s.transitionWorkflow)

	api.POST("/dedup", s.runDedup)
	api.POST("/validity/recompute", s.recomputeValidity)
	api.POST("/urls/recompute", s.recomputeURLs)
	api.POST("/matcher/reload", s.reloadMatcher)
	api.POST("/workers/trigger", s.triggerWorkers)
}

func (s *Server) Start() error {
	log.Printf("Admin API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"paused": s.scheduler.IsPaused()})
}

func (s *Server) pauseScheduler(c *gin.Context) {
	s.scheduler.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) resumeScheduler(c *gin.Context) {
	s.scheduler.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) triggerSource(c *gin.Context) {
	name := c.Param("name")
	runID, err := s.scheduler.TriggerNow(c.Request.Context(), name)
	if err != nil {
		if strings.Contains(err.Error(), "unknown source") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if strings.Contains(err.Error(), "already running") {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "source": name})
}

func (s *Server) sourceHealth(c *gin.Context) {
	stats, err := s.store.ListSourceStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list source stats"})
		return
	}

	type sourceHealth struct {
		models.SourceStats
		Healthy bool `json:"healthy"`
	}
	out := make([]sourceHealth, 0, len(stats))
	for _, st := range stats {
		out = append(out, sourceHealth{SourceStats: st, Healthy: st.Healthy()})
	}

	c.JSON(http.StatusOK, gin.H{"sources": out, "count": len(out)})
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	runs, err := s.store.ListRuns(c.Request.Context(), c.Query("source"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	logs, err := s.store.GetRunLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "logs": logs})
}

func (s *Server) searchListings(c *gin.Context) {
	query := models.SearchQuery{
		Source:        c.Query("source"),
		Jurisdiction:  c.Query("jurisdiction"),
		Category:      c.Query("category"),
		WorkflowState: models.WorkflowState(c.Query("workflow_state")),
		ValidityState: models.ValidityState(c.Query("validity_state")),
		AlertGroupID:  c.Query("alert_group"),
		Text:          c.Query("q"),
		OrderBy:       c.Query("order_by"),
		Ascending:     c.Query("order") == "asc",
		NullsLast:     true,
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			query.Offset = n
		}
	}

	listings, err := s.store.SearchListings(c.Request.Context(), query)
	if err != nil {
		log.Printf("Admin: search error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

type workflowRequest struct {
	To   string `json:"to" binding:"required"`
	By   string `json:"by"`
	Note string `json:"note"`
}

func (s *Server) transitionWorkflow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := s.workflow.Transition(c.Request.Context(), id, models.WorkflowState(req.To), req.By, req.Note)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "not found"):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case strings.Contains(err.Error(), "illegal transition"):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, listing)
}

func (s *Server) runDedup(c *gin.Context) {
	result, err := s.dedup.RunBatch(c.Request.Context(), c.Query("jurisdiction"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) recomputeValidity(c *gin.Context) {
	result, err := s.validity.RecomputeAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) recomputeURLs(c *gin.Context) {
	result, err := s.urls.RecomputeAll(c.Request.Context(), c.Query("jurisdiction"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) triggerWorkers(c *gin.Context) {
	s.scheduler.TriggerWorkers()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

func (s *Server) reloadMatcher(c *gin.Context) {
	if err := s.matcher.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
