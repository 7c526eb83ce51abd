package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classmaster/internal/common"
	"classmaster/internal/task"
)

const dateLayout = "2006-01-02"

func (h *handler) listTasks(c *gin.Context) {
	tasks, err := h.Tasks.ListTasks(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *handler) createTask(c *gin.Context) {
	var req struct {
		Title   string `json:"title" binding:"required"`
		DueDate string `json:"due_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	var due *time.Time
	if req.DueDate != "" {
		d, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			h.fail(c, fmt.Errorf("due_date must be YYYY-MM-DD: %w", common.ErrBadRequest))
			return
		}
		due = &d
	}

	t, err := h.Tasks.CreatePersonalTask(c.Request.Context(), userID(c), req.Title, due)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *handler) updateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	status, err := task.ParseStatus(req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.Tasks.UpdateStatus(c.Request.Context(), userID(c), c.Param("id"), status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) syncAnnouncement(c *gin.Context) {
	n, err := h.Tasks.SyncAnnouncementTasks(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"announcement_id": c.Param("id"), "created": n})
}

func (h *handler) leaderboard(c *gin.Context) {
	course := c.Param("course")
	standings, err := h.Leaderboard.Rank(c.Request.Context(), course)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course_code": course, "standings": standings})
}

func (h *handler) initEntry(c *gin.Context) {
	e, err := h.Leaderboard.Initialize(c.Request.Context(), userID(c), c.Param("course"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *handler) setAnonymity(c *gin.Context) {
	var req struct {
		Anonymous *bool `json:"anonymous" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	e, err := h.Leaderboard.SetAnonymity(c.Request.Context(), userID(c), c.Param("course"), *req.Anonymous)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) sweep(c *gin.Context) {
	n, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": n})
}
