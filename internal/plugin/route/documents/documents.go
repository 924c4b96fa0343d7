// Package documents exposes campaign source material ingestion. The
// caller supplies already-extracted plain text plus a stable document
// id; re-posting the same id supersedes the prior ingest.
package documents

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronicle-rpg/chronicle/internal/ingest"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
)

// MountRoutes mounts the document REST endpoints on the given router.
func MountRoutes(r *gin.Engine, store registrystore.CampaignStore, ingestor *ingest.Ingestor) {
	g := r.Group("/v1")

	g.POST("/campaigns/:campaignId/documents", func(c *gin.Context) { ingestDocument(c, ingestor) })
	g.GET("/campaigns/:campaignId/documents", func(c *gin.Context) { listDocuments(c, store) })
	g.GET("/campaigns/:campaignId/documents/:documentId/fragments", func(c *gin.Context) { listFragments(c, store) })
}

func ingestDocument(c *gin.Context, ingestor *ingest.Ingestor) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	var req struct {
		DocumentID string `json:"documentId"`
		Title      string `json:"title"`
		Text       string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "documentId is required"})
		return
	}

	report, err := ingestor.IngestDocument(c.Request.Context(), campaignID, req.DocumentID, req.Title, req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func listDocuments(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	docs, err := store.ListDocuments(c.Request.Context(), campaignID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": docs})
}

func listFragments(c *gin.Context, store registrystore.CampaignStore) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	fragments, err := store.ListDocumentFragments(c.Request.Context(), campaignID, c.Param("documentId"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fragments})
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
