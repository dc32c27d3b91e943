package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"docintel-backend/internal/config"
	"docintel-backend/internal/logger"
	"docintel-backend/internal/queue"
	"docintel-backend/models"
	"docintel-backend/services"
	"docintel-backend/utils"
)

// DocumentHandler serves the document pipeline API
type DocumentHandler struct {
	cfg       *config.Config
	documents *services.DocumentService
	exporter  *services.ExportService
	asynq     *asynq.Client // nil means inline processing only
}

// SetupDocumentRoutes registers the document endpoints
func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, documents *services.DocumentService, asynqClient *asynq.Client) {
	h := &DocumentHandler{
		cfg:       cfg,
		documents: documents,
		exporter:  services.NewExportService(),
		asynq:     asynqClient,
	}

	api := router.Group("/api/v1/documents")
	{
		api.POST("/upload", h.Upload)
		api.POST("/:id/process", h.Process)
		api.GET("/:id/status", h.Status)
		api.GET("/:id/result", h.Result)
		api.POST("/:id/cancel", h.Cancel)
		api.GET("/:id/export", h.Export)
		api.GET("", h.List)
	}
}

// Upload accepts a multipart file, extracts its text and stores it
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.RespondWithBadRequest(c, "missing file field", nil)
		return
	}
	if fileHeader.Size > h.cfg.MaxFileSize {
		utils.RespondWithBadRequest(c, fmt.Sprintf("file exceeds maximum size of %d bytes", h.cfg.MaxFileSize), nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		utils.RespondWithInternalError(c, "failed to open upload", nil)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		utils.RespondWithInternalError(c, "failed to read upload", nil)
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	doc, duplicate, err := h.documents.Upload(c.Request.Context(), fileHeader.Filename, contentType, content)
	if err != nil {
		utils.RespondWithBadRequest(c, err.Error(), nil)
		return
	}

	message := "document uploaded"
	status := http.StatusCreated
	if duplicate {
		message = "identical document already exists"
		status = http.StatusOK
	}

	c.JSON(status, models.UploadResponse{
		ID:          doc.ID.Hex(),
		Filename:    doc.Filename,
		Status:      doc.Status,
		ContentType: doc.ContentType,
		Size:        doc.Size,
		PageCount:   doc.PageCount,
		Message:     message,
	})
}

// Process starts the pipeline for a document, queued when a worker pool is
// configured and inline otherwise
func (h *DocumentHandler) Process(c *gin.Context) {
	id := c.Param("id")

	if h.asynq != nil {
		task, err := queue.NewDocumentProcessTask(id)
		if err != nil {
			utils.RespondWithInternalError(c, "failed to create task", nil)
			return
		}
		info, err := h.asynq.Enqueue(task)
		if err != nil {
			utils.RespondWithInternalError(c, "failed to enqueue task", nil)
			return
		}
		logger.Info("document processing enqueued", "document_id", id, "task_id", info.ID)
		c.JSON(http.StatusAccepted, gin.H{
			"document_id": id,
			"task_id":     info.ID,
			"status":      models.StatusProcessing,
		})
		return
	}

	// Inline fallback for deployments without a worker. The run must outlive
	// the request context.
	go func() {
		if _, err := h.documents.Process(context.Background(), id); err != nil {
			logger.Error("inline processing failed", "document_id", id, "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{
		"document_id": id,
		"status":      models.StatusProcessing,
	})
}

// Status reports live run progress or the stored document status
func (h *DocumentHandler) Status(c *gin.Context) {
	id := c.Param("id")

	state, err := h.documents.Status(c.Request.Context(), id)
	if err != nil {
		utils.RespondWithNotFound(c, "document not found")
		return
	}
	c.JSON(http.StatusOK, state)
}

// Result returns the full pipeline output for a completed run
func (h *DocumentHandler) Result(c *gin.Context) {
	id := c.Param("id")

	result, err := h.documents.Result(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			utils.RespondWithNotFound(c, "no result for document")
			return
		}
		utils.RespondWithInternalError(c, "failed to load result", nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Cancel aborts an in-flight run
func (h *DocumentHandler) Cancel(c *gin.Context) {
	id := c.Param("id")

	if err := h.documents.Cancel(id); err != nil {
		utils.RespondWithNotFound(c, "no active run for document")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": id,
		"status":      models.StatusCancelled,
	})
}

// Export streams the result as an XLSX workbook
func (h *DocumentHandler) Export(c *gin.Context) {
	id := c.Param("id")

	result, err := h.documents.Result(c.Request.Context(), id)
	if err != nil {
		utils.RespondWithNotFound(c, "no result for document")
		return
	}

	buf, err := h.exporter.ExportResult(result)
	if err != nil {
		utils.RespondWithInternalError(c, "failed to build export", nil)
		return
	}

	filename := fmt.Sprintf("document-%s.xlsx", id)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// List returns recent documents
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context(), 100)
	if err != nil {
		utils.RespondWithInternalError(c, "failed to list documents", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}
