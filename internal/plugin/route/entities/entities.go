// Package entities exposes read access to the campaign's extracted
// entity table.
package entities

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronicle-rpg/chronicle/internal/model"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
)

// MountRoutes mounts the entity REST endpoints on the given router.
func MountRoutes(r *gin.Engine, store registrystore.CampaignStore) {
	g := r.Group("/v1")

	g.GET("/campaigns/:campaignId/entities", func(c *gin.Context) { listEntities(c, store) })
	g.GET("/campaigns/:campaignId/entities/:entityId", func(c *gin.Context) { getEntity(c, store) })
}

func listEntities(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	var kind *model.EntityKind
	if v := c.Query("kind"); v != "" {
		k := model.EntityKind(v)
		kind = &k
	}

	entities, err := store.ListEntities(c.Request.Context(), campaignID, kind)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entities})
}

func getEntity(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	entityID, ok := pathUUID(c, "entityId")
	if !ok {
		return
	}
	entity, err := store.GetEntity(c.Request.Context(), campaignID, entityID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
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

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
