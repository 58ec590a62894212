package handler

import (
	"net/http"

	"benji/internal/metrics"
	"benji/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer    trace.Tracer
	accounts  *service.AccountService
	lifecycle *service.LifecycleManager
}

func New(
	tracer trace.Tracer,
	accounts *service.AccountService,
	lifecycle *service.LifecycleManager,
) *Handler {
	return &Handler{
		tracer:    tracer,
		accounts:  accounts,
		lifecycle: lifecycle,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/signals/active", h.GetActiveSignals)
	api.GET("/signals/latest", h.GetLatestSignal)
	api.GET("/signals/history", h.GetHistory)
	api.POST("/signals/:id/confirm", h.ConfirmSignal)
	api.GET("/users/:username", h.GetUser)
	api.PUT("/users/:username", h.PutUser)
	api.GET("/users/:username/preferences", h.GetPreferences)
	api.PUT("/users/:username/preferences/:ticker", h.PutPreference)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
