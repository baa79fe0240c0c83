package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/smy-billing/backend-go/internal/ingest"
	"github.com/andresuchdata/smy-billing/backend-go/internal/normalize"
	"github.com/andresuchdata/smy-billing/backend-go/internal/service"
)

type ImportHandler struct {
	importer *ingest.Importer
	batches  *service.BatchService
}

func NewImportHandler(importer *ingest.Importer, batches *service.BatchService) *ImportHandler {
	return &ImportHandler{importer: importer, batches: batches}
}

// UploadOrders imports one order export sent as multipart field "file".
func (h *ImportHandler) UploadOrders(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	encoding, err := normalize.ParseEncoding(c.PostForm("encoding"))
	if err != nil {
		respondError(c, err)
		return
	}
	overwrite, err := parseFormBool(c, "overwrite")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "overwrite must be a boolean"})
		return
	}
	dryRun, err := parseFormBool(c, "dry_run")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
		return
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Str("filename", file.Filename).Msg("failed to open uploaded file")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read uploaded file"})
		return
	}
	defer src.Close()

	result, err := h.importer.Import(c.Request.Context(), src, ingest.Options{
		Encoding:  encoding,
		Overwrite: overwrite,
		DryRun:    dryRun,
		FileName:  file.Filename,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ImportHandler) ListBatches(c *gin.Context) {
	batches, err := h.batches.ListBatches(c.Request.Context(), parsePositiveIntWithDefault(c.Query("limit"), 20))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (h *ImportHandler) GetBatch(c *gin.Context) {
	batch, err := h.batches.GetBatch(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}
