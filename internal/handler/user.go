package handler

import (
	"errors"
	"net/http"
	"strings"

	"benji/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type userRequest struct {
	Email      string `json:"email"`
	ChatHandle string `json:"chat_handle"`
}

type preferenceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) GetUser(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-user")
	defer span.End()
	span.SetAttributes(attribute.String("user", c.Param("username")))

	u, err := h.accounts.GetUser(ctx, c.Param("username"))
	if errors.Is(err, domain.ErrUnknownUser) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// PutUser creates the user on first session. Contact fields in the body are optional and
// only overwrite stored values when non-empty.
func (h *Handler) PutUser(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.put-user")
	defer span.End()

	var req userRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}

	u, err := h.accounts.EnsureUser(ctx, domain.User{
		Username:   c.Param("username"),
		Email:      strings.TrimSpace(req.Email),
		ChatHandle: strings.TrimSpace(req.ChatHandle),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) GetPreferences(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-preferences")
	defer span.End()

	prefs, err := h.accounts.Preferences(ctx, c.Param("username"))
	if errors.Is(err, domain.ErrUnknownUser) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

func (h *Handler) PutPreference(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.put-preference")
	defer span.End()

	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	p, err := h.accounts.SetPreference(ctx, c.Param("username"), c.Param("ticker"), *req.Enabled)
	if errors.Is(err, domain.ErrUnknownUser) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preference": p})
}
