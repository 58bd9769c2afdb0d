package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opickel/social-recipes/internal/api/dto"
	"github.com/opickel/social-recipes/internal/store"
)

// ListHistory handles GET /api/v1/history
// Lists archived jobs newest first with keyset pagination; failed
// attempts superseded by a later success for the same URL are hidden
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	var req dto.ListHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeHistoryCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	records, err := h.history.ListHistory(c.Request.Context(), store.HistoryFilter{
		URL:      req.URL,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list history", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list history",
		})
		return
	}

	hasMore := len(records) > req.PageSize
	if hasMore {
		records = records[:req.PageSize]
	}

	response := make([]dto.HistoryDTO, len(records))
	for i := range records {
		response[i] = dto.NewHistoryDTO(&records[i], false)
	}

	var nextCursor string
	if hasMore {
		last := records[len(records)-1]
		nextCursor = EncodeHistoryCursor(&store.HistoryCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListHistoryResponse{
		History:    response,
		NextCursor: nextCursor,
	})
}

// GetHistory handles GET /api/v1/history/:id
// Returns one history record including the full recipe document
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	id, ok := h.historyID(c)
	if !ok {
		return
	}

	record, err := h.history.GetHistory(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get history record",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		respondDomainError(c, err, "Failed to get history record")
		return
	}

	c.JSON(http.StatusOK, dto.NewHistoryDTO(record, true))
}

// GetHistoryThumbnail handles GET /api/v1/history/:id/thumbnail
// Serves the stored dish image
func (h *HistoryHandler) GetHistoryThumbnail(c *gin.Context) {
	id, ok := h.historyID(c)
	if !ok {
		return
	}

	record, err := h.history.GetHistory(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "Failed to get history record")
		return
	}
	if len(record.Thumbnail) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No thumbnail stored for this record",
		})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", record.Thumbnail)
}

// DeleteHistory handles DELETE /api/v1/history/:id
func (h *HistoryHandler) DeleteHistory(c *gin.Context) {
	id, ok := h.historyID(c)
	if !ok {
		return
	}

	if err := h.history.DeleteHistory(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to delete history record",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		respondDomainError(c, err, "Failed to delete history record")
		return
	}

	c.Status(http.StatusNoContent)
}

// ExportHistory handles POST /api/v1/history/:id/export
// Re-uploads an archived recipe to one export target
func (h *HistoryHandler) ExportHistory(c *gin.Context) {
	id, ok := h.historyID(c)
	if !ok {
		return
	}

	var req dto.ExportHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	exporter, known := h.exporters[req.Target]
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Unknown export target %q", req.Target),
		})
		return
	}

	record, err := h.history.GetHistory(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "Failed to get history record")
		return
	}
	if record.Recipe == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "History record has no recipe to export",
		})
		return
	}

	remoteID, err := exporter.CreateRecipe(c.Request.Context(), record.Recipe)
	if err != nil {
		h.logger.Error("Failed to export history record",
			slog.String("id", id),
			slog.String("target", req.Target),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to export recipe",
		})
		return
	}

	// Best-effort image re-upload from the stored thumbnail.
	if len(record.Thumbnail) > 0 && remoteID != "" {
		if imagePath, err := writeTempImage(record.Thumbnail); err == nil {
			if err := exporter.UploadImage(c.Request.Context(), remoteID, imagePath); err != nil {
				h.logger.Warn("Failed to upload image during re-export",
					slog.String("id", id),
					slog.String("target", req.Target),
					slog.String("error", err.Error()),
				)
			}
			_ = os.Remove(imagePath)
		}
	}

	if err := h.history.AppendExportTarget(c.Request.Context(), id, req.Target); err != nil {
		h.logger.Warn("Failed to record export target",
			slog.String("id", id),
			slog.String("target", req.Target),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"target": req.Target,
	})
}

func (h *HistoryHandler) historyID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.logger.Error("Invalid history id format",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

func writeTempImage(data []byte) (string, error) {
	f, err := os.CreateTemp("", "dish-*.jpg")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
