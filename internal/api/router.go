// Package api exposes the task, leaderboard and sweep operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classmaster/internal/auth"
	"classmaster/internal/common"
	"classmaster/internal/httpmiddleware"
	"classmaster/internal/leaderboard"
	"classmaster/internal/task"
)

type TaskService interface {
	UpdateStatus(ctx context.Context, actorID, taskID string, status task.Status) (task.Result, error)
	CreatePersonalTask(ctx context.Context, ownerID, title string, dueDate *time.Time) (task.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]task.Task, error)
	SyncAnnouncementTasks(ctx context.Context, actorID, announcementID string) (int, error)
}

type LeaderboardService interface {
	Initialize(ctx context.Context, studentID, courseID string) (leaderboard.Entry, error)
	SetAnonymity(ctx context.Context, studentID, courseID string, anonymous bool) (leaderboard.Entry, error)
	Rank(ctx context.Context, courseID string) ([]leaderboard.Standing, error)
}

type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

// HealthCheck reports whether one dependency answers.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators the router is built from.
type Deps struct {
	Tasks       TaskService
	Leaderboard LeaderboardService
	Sweeper     Sweeper
	// Limiter is optional; nil disables rate limiting.
	Limiter       httpmiddleware.Limiter
	Health        map[string]HealthCheck
	Gatherer      prometheus.Gatherer
	JWTSigningKey string
	JWTIssuer     string
	Log           *log.Logger
}

type handler struct {
	Deps
}

// NewRouter wires middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	h := &handler{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	if d.Limiter != nil {
		r.Use(httpmiddleware.GinMiddleware(d.Limiter))
	}

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1", auth.UserAuth(d.JWTSigningKey, d.JWTIssuer))
	v1.GET("/tasks", h.listTasks)
	v1.POST("/tasks", h.createTask)
	v1.PATCH("/tasks/:id/status", h.updateStatus)
	v1.POST("/announcements/:id/tasks", auth.RequireRole(task.RoleFaculty), h.syncAnnouncement)

	v1.GET("/courses/:course/leaderboard", h.leaderboard)
	v1.POST("/courses/:course/leaderboard", auth.RequireRole(task.RoleStudent), h.initEntry)
	v1.PUT("/courses/:course/leaderboard/anonymity", auth.RequireRole(task.RoleStudent), h.setAnonymity)

	v1.POST("/sweeps", auth.RequireRole(task.RoleFaculty), h.sweep)
	return r
}

func (h *handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// fail writes err with its mapped status; server-side failures are logged, not echoed.
func (h *handler) fail(c *gin.Context, err error) {
	status := common.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		h.Log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": common.PublicMessage(err)})
}

func (h *handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func userID(c *gin.Context) string {
	claims, _ := auth.CurrentUser(c)
	return claims.Subject
}
