// Package characters exposes the campaign's character sheet.
package characters

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
)

// MountRoutes mounts the character sheet endpoints on the given router.
func MountRoutes(r *gin.Engine, store registrystore.CampaignStore) {
	g := r.Group("/v1")

	g.GET("/campaigns/:campaignId/character", func(c *gin.Context) { getCharacter(c, store) })
	g.PUT("/campaigns/:campaignId/character", func(c *gin.Context) { putCharacter(c, store) })
}

func getCharacter(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	character, err := store.GetCharacter(c.Request.Context(), campaignID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, character)
}

// putCharacter creates or patches the sheet. Omitted fields keep their
// current values; Attributes merge per key.
func putCharacter(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	var req struct {
		Name       *string           `json:"name"`
		Class      *string           `json:"class"`
		Level      *int              `json:"level"`
		Summary    *string           `json:"summary"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	character, err := store.PutCharacter(c.Request.Context(), campaignID, registrystore.CharacterUpdate{
		Name:       req.Name,
		Class:      req.Class,
		Level:      req.Level,
		Summary:    req.Summary,
		Attributes: req.Attributes,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, character)
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

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
