package http

import (
	"net/http"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// StatusHandler serves the read-only operational API: connectivity
// provisioning for clients and service statistics for operators.
type StatusHandler struct {
	sessions   ports.SessionStore
	matchmaker ports.Matchmaker
	config     ports.ConfigProvider
	records    ports.SessionRecordRepository
	health     *monitoring.HealthChecker
	startedAt  time.Time
}

func NewStatusHandler(
	sessions ports.SessionStore,
	matchmaker ports.Matchmaker,
	config ports.ConfigProvider,
	records ports.SessionRecordRepository,
	health *monitoring.HealthChecker,
) *StatusHandler {
	return &StatusHandler{
		sessions:   sessions,
		matchmaker: matchmaker,
		config:     config,
		records:    records,
		health:     health,
		startedAt:  time.Now(),
	}
}

func (h *StatusHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	{
		api.GET("/ice-config", h.ICEConfig)
		api.GET("/stats", h.Stats)
		api.GET("/sessions/:id/metrics", h.SessionMetrics)
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (h *StatusHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// ICEConfig returns a fresh connectivity configuration. Clients that cannot
// wait for a match-found envelope (for example, pre-warming) use this.
func (h *StatusHandler) ICEConfig(c *gin.Context) {
	cfg := h.config.GenerateConnectivityConfig(c.Request.Context())
	c.JSON(http.StatusOK, cfg)
}

func (h *StatusHandler) Stats(c *gin.Context) {
	depths := h.matchmaker.QueueDepths()
	queues := make(map[string]int, len(depths))
	waiting := 0
	for chain, depth := range depths {
		queues[string(chain)] = depth
		waiting += depth
	}

	c.JSON(http.StatusOK, gin.H{
		"activeSessions": h.sessions.ActiveCount(),
		"waitingUsers":   waiting,
		"queues":         queues,
		"uptimeSeconds":  int64(time.Since(h.startedAt).Seconds()),
	})
}

// SessionMetrics returns the connectivity samples reported for one session
// over the requested window (default: the last hour).
func (h *StatusHandler) SessionMetrics(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if _, err := h.sessions.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	to := time.Now()
	from := to.Add(-time.Hour)
	samples, err := h.records.MetricsRange(c.Request.Context(), id, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": id,
		"samples":   samples,
	})
}
