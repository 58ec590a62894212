package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"benji/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// GetActiveSignals returns every open signal, newest first.
func (h *Handler) GetActiveSignals(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-active-signals")
	defer span.End()

	active, err := h.accounts.ActiveSignals(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if active == nil {
		active = []domain.ActiveSignal{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": active})
}

// GetLatestSignal returns the "right now play", or a null signal while scanning.
func (h *Handler) GetLatestSignal(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-latest-signal")
	defer span.End()

	latest, err := h.accounts.LatestActive(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal": latest})
}

func (h *Handler) GetHistory(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-history")
	defer span.End()

	limit := defaultHistoryLimit
	if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	history, err := h.accounts.History(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history == nil {
		history = []domain.HistoricalSignal{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": history})
}

type confirmRequest struct {
	Username string `json:"username" binding:"required"`
}

// ConfirmSignal records that a user took a resolved signal. Only the first confirmation of a
// signal credits anyone; later calls report confirmed=false.
func (h *Handler) ConfirmSignal(c *gin.Context) {
	if h.lifecycle == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lifecycle service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.confirm-signal")
	defer span.End()

	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	span.SetAttributes(attribute.Int64("signal_id", id), attribute.String("user", req.Username))

	signal, confirmed, err := h.lifecycle.Confirm(ctx, id, req.Username)
	switch {
	case errors.Is(err, domain.ErrSignalNotFound), errors.Is(err, domain.ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal": signal, "confirmed": confirmed})
}
