package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-digest/app/registry"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

func NewHandler(runs RunQueue, taskRegistry TaskRegistry, stats StatsSource, scheduler Rescheduler, version string) *Handler {
	return &Handler{
		runs:      runs,
		tasks:     taskRegistry,
		stats:     stats,
		scheduler: scheduler,
		version:   version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	})
}

func (h *Handler) GetStatus(c *gin.Context) {
	status := gin.H{
		"coordinator": h.runs.Status(),
	}

	if stats, err := h.stats.GetStats(); err == nil {
		status["items"] = stats
	} else {
		slog.Error("Database error", "operation", "get_stats", "error", err)
	}

	if taskList, err := h.tasks.GetTasks(); err == nil {
		status["tasks"] = len(taskList)
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) ListRuns(c *gin.Context) {
	runs := h.runs.Runs()
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

func (h *Handler) GetRun(c *gin.Context) {
	run, ok := h.runs.Run(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) APIListTasks(c *gin.Context) {
	taskList, err := h.tasks.GetTasks()
	if err != nil {
		slog.Error("Failed to load tasks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tasks"})
		return
	}

	summaries := make([]taskSummary, 0, len(taskList))
	for _, task := range taskList {
		summary := taskSummary{
			ID:               task.ID,
			Name:             task.Name,
			Feeds:            len(task.Feeds),
			Recipients:       task.Recipients,
			Schedule:         task.Schedule,
			FeedsStatus:      task.FeedsStatus,
			RecipientsStatus: task.RecipientsStatus,
		}
		if task.LastRun != nil {
			summary.LastRun = task.LastRun.Format(time.RFC3339)
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": summaries,
		"total": len(summaries),
	})
}

func (h *Handler) APIRunTask(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.tasks.GetTask(id); err != nil {
		if errors.Is(err, registry.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		slog.Error("Failed to load task", "task", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
		return
	}

	h.enqueue(c, id)
}

func (h *Handler) APIRunAll(c *gin.Context) {
	h.enqueue(c, "")
}

func (h *Handler) enqueue(c *gin.Context, taskID string) {
	runID, err := h.runs.Enqueue(taskID)
	if err != nil {
		slog.Error("Error enqueueing run", "task", taskID, "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, tasks.ErrQueueClosed) {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"error":   "Failed to enqueue run",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"run_id":  runID,
		"task_id": taskID,
	})
}

// APISaveTask creates or replaces the task named in the path. Run results
// (feed, recipient and last run status) stay with the stored task.
func (h *Handler) APISaveTask(c *gin.Context) {
	id := c.Param("id")

	var task registry.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task definition", "details": err.Error()})
		return
	}
	task.ID = id

	existing, err := h.tasks.GetTask(id)
	switch {
	case err == nil:
		task.FeedsStatus = existing.FeedsStatus
		task.RecipientsStatus = existing.RecipientsStatus
		task.LastRun = existing.LastRun
	case errors.Is(err, registry.ErrTaskNotFound):
		task.FeedsStatus, task.RecipientsStatus, task.LastRun = nil, nil, nil
	default:
		slog.Error("Failed to load task", "task", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
		return
	}

	if _, err := h.tasks.SaveTask(task); err != nil {
		if errors.Is(err, registry.ErrInvalidTask) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task definition", "details": err.Error()})
			return
		}
		slog.Error("Failed to save task", "task", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save task"})
		return
	}

	if err := h.scheduler.Rebuild(); err != nil {
		slog.Warn("Failed to rebuild schedule after save", "task", id, "error", err)
	}

	code := http.StatusOK
	if existing == nil {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"success": true, "task_id": id})
}

func (h *Handler) APIDeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.tasks.DeleteTask(id); err != nil {
		if errors.Is(err, registry.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		slog.Error("Failed to delete task", "task", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task"})
		return
	}

	if err := h.scheduler.Rebuild(); err != nil {
		slog.Warn("Failed to rebuild schedule after delete", "task", id, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "task_id": id})
}
