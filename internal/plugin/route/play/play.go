// Package play exposes the gameplay endpoint: one player action in,
// one DM narration out, with the exchange recorded into campaign
// memory.
package play

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronicle-rpg/chronicle/internal/assemble"
	"github.com/chronicle-rpg/chronicle/internal/config"
	registryinfer "github.com/chronicle-rpg/chronicle/internal/registry/infer"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
	"github.com/chronicle-rpg/chronicle/internal/service"
)

// MountRoutes mounts the play endpoints on the given router. narrator
// may be nil when inference is disabled; the context preview endpoint
// still works without it.
func MountRoutes(r *gin.Engine, store registrystore.CampaignStore, assembler *assemble.Assembler, narrator registryinfer.Narrator, updater *service.MemoryUpdater, locks *service.SessionLocks, cfg *config.Config) {
	g := r.Group("/v1")

	g.POST("/sessions/:sessionId/actions", func(c *gin.Context) {
		postAction(c, store, assembler, narrator, updater, locks, cfg)
	})
	g.POST("/sessions/:sessionId/context", func(c *gin.Context) {
		previewContext(c, store, assembler)
	})
}

type actionRequest struct {
	Action      string   `json:"action"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// postAction runs one exchange: assemble context, generate the
// narration, record both turns. The per-session lock keeps exchanges
// strictly sequential; a second action while one is in flight gets a
// conflict instead of interleaved turns.
func postAction(c *gin.Context, store registrystore.CampaignStore, assembler *assemble.Assembler, narrator registryinfer.Narrator, updater *service.MemoryUpdater, locks *service.SessionLocks, cfg *config.Config) {
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if narrator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inference backend disabled"})
		return
	}

	session, err := store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}

	if !locks.TryAcquire(sessionID) {
		c.JSON(http.StatusConflict, gin.H{"code": "action_in_flight", "error": "an action is already being processed for this session"})
		return
	}
	defer locks.Release(sessionID)

	assembled, err := assembler.Assemble(c.Request.Context(), session.CampaignID, sessionID, req.Action)
	if err != nil {
		handleError(c, err)
		return
	}

	inferReq := registryinfer.Request{
		Prompt:      assembled.Prompt,
		Model:       cfg.InferModelName,
		Temperature: cfg.InferTemperature,
		MaxTokens:   cfg.InferMaxTokens,
	}
	if req.Temperature != nil {
		inferReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		inferReq.MaxTokens = *req.MaxTokens
	}

	inferCtx := c.Request.Context()
	if cfg.InferTimeout > 0 {
		var cancel context.CancelFunc
		inferCtx, cancel = context.WithTimeout(inferCtx, cfg.InferTimeout)
		defer cancel()
	}
	resp, err := narrator.Generate(inferCtx, inferReq)
	if err != nil {
		handleError(c, err)
		return
	}

	exchange, err := updater.RecordExchange(c.Request.Context(), session.CampaignID, sessionID, req.Action, resp.Text)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"narration":     resp.Text,
		"model":         resp.Model,
		"playerTurn":    exchange.PlayerTurn,
		"dmTurn":        exchange.DMTurn,
		"fragmentsUsed": assembled.Fragments,
		"entityIds":     assembled.EntityIDs,
		"contextSize":   assembled.Size,
	})
}

// previewContext assembles the prompt for an action without calling
// the inference backend or recording anything. Debugging aid.
func previewContext(c *gin.Context, store registrystore.CampaignStore, assembler *assemble.Assembler) {
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	assembled, err := assembler.Assemble(c.Request.Context(), session.CampaignID, sessionID, req.Action)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, assembled)
}

func pathUUID(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(key))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return uuid.Nil, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var invalid *registrystore.InvalidSessionError
	var backend *registrystore.BackendUnavailableError
	var dimension *registrystore.DimensionMismatchError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{"code": "invalid_session", "error": err.Error()})
	case errors.As(err, &backend):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "backend_unavailable", "error": err.Error()})
	case errors.As(err, &dimension):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "dimension_mismatch", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
