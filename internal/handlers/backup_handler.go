package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"journal-backend/internal/middleware"
	"journal-backend/internal/service"
	"journal-backend/pkg/logger"
)

type BackupHandler struct {
	service       *service.BackupService
	maxUploadSize int64
}

func NewBackupHandler(service *service.BackupService, maxUploadSize int64) *BackupHandler {
	return &BackupHandler{service: service, maxUploadSize: maxUploadSize}
}

// Export builds a fresh archive of the authenticated user's data and
// streams it as a download.
func (h *BackupHandler) Export(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	result, err := h.service.CreateBackup(c.Request.Context(), userID, progressLogger(userID, "export"))
	if err != nil {
		if errors.Is(err, service.ErrBackupInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Error(err, "Failed to create backup archive", map[string]interface{}{"user": userID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create backup archive"})
		return
	}

	if info, err := os.Stat(result.ArchivePath); err == nil {
		c.Header("X-Backup-Size", strconv.FormatInt(info.Size(), 10))
	}
	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.File(result.ArchivePath)
}

// List reports the archives already present in the backup directory for
// the authenticated user, including ones produced by the scheduler.
func (h *BackupHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	archives, err := h.service.ListBackups(userID)
	if err != nil {
		logger.Error(err, "Failed to list backup archives", map[string]interface{}{"user": userID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list backup archives"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"archives": archives})
}

// Download serves a previously created archive by filename.
func (h *BackupHandler) Download(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	filename := c.Param("filename")
	path, err := h.service.ResolveArchive(userID, filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "backup archive not found"})
		return
	}

	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	c.File(path)
}

type restoreRequest struct {
	Strategy string `form:"strategy" binding:"omitempty,restore_strategy"`
	Filename string `form:"filename"`
}

// Restore re-imports a backup archive into the authenticated account.
// The archive comes either as a multipart upload ("file") or as the
// name of a server-side archive ("filename").
func (h *BackupHandler) Restore(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req restoreRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid restore request: " + err.Error()})
		return
	}
	if req.Strategy == "" {
		req.Strategy = string(service.StrategyMerge)
	}
	strategy, err := service.ParseStrategy(req.Strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	archivePath, cleanup, err := h.stageArchive(c, userID, req.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer cleanup()

	summary, err := h.service.RestoreBackup(c.Request.Context(), userID, archivePath, strategy, progressLogger(userID, "restore"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidBackup):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrBackupInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.Error(err, "Failed to restore backup", map[string]interface{}{"user": userID})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to restore backup"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "backup restored",
		"summary": summary,
	})
}

// stageArchive puts the archive to restore on local disk and returns
// its path with a cleanup func for any temporary copy.
func (h *BackupHandler) stageArchive(c *gin.Context, userID, filename string) (string, func(), error) {
	noop := func() {}

	if filename != "" {
		path, err := h.service.ResolveArchive(userID, filename)
		if err != nil {
			return "", noop, errors.New("backup archive not found")
		}
		return path, noop, nil
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return "", noop, errors.New("backup file is required")
	}
	if h.maxUploadSize > 0 && fileHeader.Size > h.maxUploadSize {
		return "", noop, fmt.Errorf("backup file exceeds the %d byte limit", h.maxUploadSize)
	}

	tmp, err := os.CreateTemp("", "journal-upload-*.tar.gz")
	if err != nil {
		return "", noop, errors.New("failed to stage uploaded file")
	}
	tmp.Close()

	if err := c.SaveUploadedFile(fileHeader, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		return "", noop, errors.New("failed to stage uploaded file")
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func progressLogger(userID, operation string) service.ProgressFunc {
	return func(step string, stepIndex, percentage int) {
		logger.Debug("Backup progress", map[string]interface{}{
			"user":       userID,
			"operation":  operation,
			"step":       step,
			"step_index": stepIndex,
			"percent":    percentage,
		})
	}
}
