package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabnotes/backend/internal/collab"
	"collabnotes/backend/internal/store"
)

// Documents serves the thin document-management REST surface. The
// real-time engine does not depend on it; it only shares the metadata
// store and the projector.
type Documents struct {
	meta   *store.MetadataStore
	svc    *collab.Service
	logger *zap.Logger
}

func NewDocuments(meta *store.MetadataStore, svc *collab.Service, logger *zap.Logger) *Documents {
	return &Documents{meta: meta, svc: svc, logger: logger}
}

func (h *Documents) Register(r gin.IRouter) {
	docs := r.Group("/docs")
	docs.POST("", h.Create)
	docs.GET("", h.List)
	docs.GET("/:id", h.Get)
	docs.GET("/:id/content", h.Content)
}

type createDocumentRequest struct {
	Title         string `json:"title" binding:"required"`
	CreatedBy     string `json:"createdBy" binding:"required"`
	CreatedByName string `json:"createdByName"`
}

func (h *Documents) Create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	meta, err := h.meta.Create(c.Request.Context(), req.Title, req.CreatedBy, req.CreatedByName)
	if err != nil {
		h.logger.Error("create document failed", zap.String("title", req.Title), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CREATE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *Documents) List(c *gin.Context) {
	docs, err := h.meta.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "LIST_FAILED"})
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *Documents) Get(c *gin.Context) {
	meta, err := h.meta.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "DOCUMENT_NOT_FOUND"})
		return
	}
	if err != nil {
		h.logger.Error("get document failed", zap.String("docId", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GET_FAILED"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// Content replays the document's applied operations and returns the
// projected text.
func (h *Documents) Content(c *gin.Context) {
	content, err := h.svc.Content(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("project content failed", zap.String("docId", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "PROJECTION_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": c.Param("id"), "content": content})
}
