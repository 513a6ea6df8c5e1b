package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerStatus exposes the scheduled run state.
type SchedulerStatus interface {
	NextRun() time.Time
	LastRun() (time.Time, error)
}

type HealthHandler struct {
	deps      map[string]Pinger
	scheduler SchedulerStatus
}

// NewHealthHandler takes the named dependencies to ping; scheduler may be nil.
func NewHealthHandler(deps map[string]Pinger, scheduler SchedulerStatus) *HealthHandler {
	return &HealthHandler{deps: deps, scheduler: scheduler}
}

// GetHealth is the liveness probe: 200 while the process serves requests.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"service": "fpl-optimizer",
	})
}

// GetReady pings every dependency and returns 503 if any is down.
func (h *HealthHandler) GetReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	checks := make(gin.H, len(names))
	for _, name := range names {
		if err := h.deps[name].Ping(ctx); err != nil {
			ready = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{"status": "ready", "checks": checks}
	if h.scheduler != nil {
		sched := gin.H{"next_run": h.scheduler.NextRun()}
		if at, err := h.scheduler.LastRun(); !at.IsZero() {
			sched["last_run"] = at
			if err != nil {
				sched["last_error"] = err.Error()
			}
		}
		body["scheduler"] = sched
	}

	if !ready {
		body["status"] = "not_ready"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
