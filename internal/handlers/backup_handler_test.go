package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"journal-backend/internal/models"
	"journal-backend/internal/service"
	"journal-backend/pkg/validator"
)

// newTestRouter wires the backup routes with an auth stub that marks
// every request as coming from the given account.
func newTestRouter(t *testing.T, authenticatedUser string) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Init()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	backupService := service.NewBackupService(db, t.TempDir(), t.TempDir(), service.NewBackupLockManager(nil))
	handler := NewBackupHandler(backupService, 64<<20)

	router := gin.New()
	authed := router.Group("/api/backup")
	authed.Use(func(c *gin.Context) {
		if authenticatedUser != "" {
			c.Set("user_id", authenticatedUser)
		}
		c.Next()
	})
	authed.POST("/export", handler.Export)
	authed.GET("/archives", handler.List)
	authed.GET("/archives/:filename", handler.Download)
	authed.POST("/restore", handler.Restore)

	return router, db
}

func seedAccount(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()

	user := &models.User{ID: userID, Username: "alice", Email: "alice@example.com", Password: "hashed"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func TestExportRequiresAuthentication(t *testing.T) {
	router, _ := newTestRouter(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/backup/export", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestExportStreamsArchiveDownload(t *testing.T) {
	userID := uuid.NewString()
	router, db := newTestRouter(t, userID)
	seedAccount(t, db, userID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/backup/export", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if w.Header().Get("Content-Disposition") == "" {
		t.Fatal("missing attachment disposition")
	}
	if w.Body.Len() == 0 {
		t.Fatal("empty archive body")
	}
}

func TestRestoreRejectsUnknownStrategy(t *testing.T) {
	userID := uuid.NewString()
	router, db := newTestRouter(t, userID)
	seedAccount(t, db, userID)

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	form.WriteField("strategy", "overwrite-everything")
	form.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/backup/restore", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRestoreRequiresArchive(t *testing.T) {
	userID := uuid.NewString()
	router, db := newTestRouter(t, userID)
	seedAccount(t, db, userID)

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	form.WriteField("strategy", "merge")
	form.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/backup/restore", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListReportsNoArchivesForFreshAccount(t *testing.T) {
	userID := uuid.NewString()
	router, db := newTestRouter(t, userID)
	seedAccount(t, db, userID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/backup/archives", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var payload struct {
		Archives []service.ArchiveInfo `json:"archives"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Archives) != 0 {
		t.Fatalf("expected no archives, got %d", len(payload.Archives))
	}
}

func TestDownloadRejectsForeignArchiveNames(t *testing.T) {
	userID := uuid.NewString()
	router, db := newTestRouter(t, userID)
	seedAccount(t, db, userID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/backup/archives/backup-other-user-20240101.tar.gz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
