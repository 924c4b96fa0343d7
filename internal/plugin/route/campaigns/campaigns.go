// Package campaigns exposes campaign lifecycle endpoints.
package campaigns

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
)

// MountRoutes mounts the campaign REST endpoints on the given router.
func MountRoutes(r *gin.Engine, store registrystore.CampaignStore) {
	g := r.Group("/v1")

	g.POST("/campaigns", func(c *gin.Context) { createCampaign(c, store) })
	g.GET("/campaigns", func(c *gin.Context) { listCampaigns(c, store) })
	g.GET("/campaigns/:campaignId", func(c *gin.Context) { getCampaign(c, store) })
	g.DELETE("/campaigns/:campaignId", func(c *gin.Context) { deleteCampaign(c, store) })
	g.GET("/campaigns/:campaignId/stats", func(c *gin.Context) { getCampaignStats(c, store) })
}

func createCampaign(c *gin.Context, store registrystore.CampaignStore) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	campaign, err := store.CreateCampaign(c.Request.Context(), req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func listCampaigns(c *gin.Context, store registrystore.CampaignStore) {
	campaigns, err := store.ListCampaigns(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": campaigns})
}

func getCampaign(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	campaign, err := store.GetCampaign(c.Request.Context(), campaignID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func deleteCampaign(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	if err := store.DeleteCampaign(c.Request.Context(), campaignID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func getCampaignStats(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	stats, err := store.GetCampaignStats(c.Request.Context(), campaignID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
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
