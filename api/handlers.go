package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"condoreconcile/models"
)

// handleStart implements POST start(scrapers[], area_codes[], max_properties, mode).
func (s *Server) handleStart(c *gin.Context) {
	var req models.StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := s.orchestrator.Start(req)
	if err != nil {
		errorEnvelope(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (s *Server) handlePause(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := s.orchestrator.Pause(taskID); err != nil {
		errorEnvelope(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "paused"})
}

func (s *Server) handleResume(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := s.orchestrator.Resume(taskID); err != nil {
		errorEnvelope(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "running"})
}

func (s *Server) handleCancel(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := s.orchestrator.Cancel(taskID); err != nil {
		errorEnvelope(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "cancelled"})
}

// handleStatus implements GET status(task_id): full task row + progress map
// + latest log slices.
func (s *Server) handleStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	task, err := s.orchestrator.Status(taskID)
	if err != nil {
		errorEnvelope(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TaskStatusResponse{Task: task})
}

// handleList implements GET list_tasks(active_only?).
func (s *Server) handleList(c *gin.Context) {
	activeOnly := c.Query("active_only") == "true"
	c.JSON(http.StatusOK, models.TaskListResponse{Tasks: s.orchestrator.ListTasks(activeOnly)})
}

// handleDelete implements DELETE task(task_id) — only for completed|cancelled|error.
func (s *Server) handleDelete(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := s.orchestrator.DeleteTask(taskID); err != nil {
		errorEnvelope(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// handleForceCleanup implements POST force_cleanup.
func (s *Server) handleForceCleanup(c *gin.Context) {
	n := s.orchestrator.ForceCleanup()
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}
