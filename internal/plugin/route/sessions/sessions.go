// Package sessions exposes session lifecycle and turn log endpoints.
package sessions

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
)

// MountRoutes mounts the session REST endpoints on the given router.
func MountRoutes(r *gin.Engine, store registrystore.CampaignStore) {
	g := r.Group("/v1")

	g.POST("/campaigns/:campaignId/sessions", func(c *gin.Context) { startSession(c, store) })
	g.GET("/campaigns/:campaignId/sessions", func(c *gin.Context) { listSessions(c, store) })
	g.GET("/campaigns/:campaignId/sessions/active", func(c *gin.Context) { getActiveSession(c, store) })
	g.GET("/sessions/:sessionId", func(c *gin.Context) { getSession(c, store) })
	g.POST("/sessions/:sessionId/end", func(c *gin.Context) { endSession(c, store) })
	g.GET("/sessions/:sessionId/turns", func(c *gin.Context) { listTurns(c, store) })
}

func startSession(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	session, err := store.StartSession(c.Request.Context(), campaignID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func listSessions(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	sessions, err := store.ListSessions(c.Request.Context(), campaignID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

func getActiveSession(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	session, err := store.GetActiveSession(c.Request.Context(), campaignID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func getSession(c *gin.Context, store registrystore.CampaignStore) {
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	session, err := store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func endSession(c *gin.Context, store registrystore.CampaignStore) {
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	session, err := store.EndSession(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// listTurns returns the most recent turns in ascending sequence order,
// plus the session's total turn count.
func listTurns(c *gin.Context, store registrystore.CampaignStore) {
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 50)

	turns, err := store.ListRecentTurns(c.Request.Context(), sessionID, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	total, err := store.CountTurns(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": turns, "total": total})
}

func pathUUID(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(key))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var active *registrystore.SessionActiveError
	var invalid *registrystore.InvalidSessionError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &active):
		c.JSON(http.StatusConflict, gin.H{"code": "session_active", "error": err.Error(), "activeSessionId": active.SessionID})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{"code": "invalid_session", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
