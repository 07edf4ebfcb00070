// Package api implements the task-control HTTP surface
// (start/pause/resume/cancel/status/list_tasks/delete/force_cleanup) on top
// of gin, modeled on the control-center admin API's handler + JSON-envelope
// style. Authentication/session management is an explicit Non-goal;
// this server is meant to sit behind an operator-trusted network boundary.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"condoreconcile/models"
	"condoreconcile/scraper"
)

// Server wraps a gin.Engine bound to an Orchestrator.
type Server struct {
	router *gin.Engine
	orchestrator Orchestrator
	log zerolog.Logger
	httpServer *http.Server
}

// Orchestrator is the subset of *scraper.Orchestrator the HTTP layer calls,
// kept as an interface so handler tests can supply a fake.
type Orchestrator interface {
	Start(req models.StartTaskRequest) (*models.ScrapeTask, error)
	Pause(taskID string) error
	Resume(taskID string) error
	Cancel(taskID string) error
	Status(taskID string) (*models.ScrapeTask, error)
	ListTasks(activeOnly bool) []*models.ScrapeTask
	DeleteTask(taskID string) error
	ForceCleanup() int
}

// NewServer builds the gin engine and registers every route.
func NewServer(orch Orchestrator, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	s := &Server{router: router, orchestrator: orch, log: log}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	tasks := s.router.Group("/tasks")
	tasks.POST("/start", s.handleStart)
	tasks.POST("/:task_id/pause", s.handlePause)
	tasks.POST("/:task_id/resume", s.handleResume)
	tasks.POST("/:task_id/cancel", s.handleCancel)
	tasks.GET("/:task_id/status", s.handleStatus)
	tasks.GET("", s.handleList)
	tasks.DELETE("/:task_id", s.handleDelete)
	s.router.POST("/force_cleanup", s.handleForceCleanup)
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// requestLogger replaces gin's default Logger middleware with zerolog,
// logging inline with the operation rather than through a separate
// access-log sink.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("latency", time.Since(start)).
		Msg("request")
	}
}

// exitStatus maps a control-method error onto the HTTP status table
// (200/400/404/409/409 for ok/bad-input/not-found/precondition-failed/conflict).
func exitStatus(err error) int {
	switch scraper.ExitCodeFor(err) {
	case models.ExitOK:
		return http.StatusOK
	case models.ExitBadInput:
		return http.StatusBadRequest
	case models.ExitNotFound:
		return http.StatusNotFound
	case models.ExitPreconditionFailed, models.ExitConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorEnvelope(c *gin.Context, err error) {
	c.JSON(exitStatus(err), gin.H{"error": err.Error()})
}
