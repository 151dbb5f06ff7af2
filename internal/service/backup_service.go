package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"journal-backend/internal/metrics"
	"journal-backend/internal/models"
	"journal-backend/pkg/logger"
	"journal-backend/pkg/media"
	"journal-backend/pkg/pathguard"
)

var (
	// ErrInvalidBackup marks archives that fail structural or manifest
	// validation before any database mutation happens.
	ErrInvalidBackup = errors.New("invalid backup archive")

	// ErrArchiveNotFound marks archive lookups that name no archive the
	// requesting user may access.
	ErrArchiveNotFound = errors.New("backup archive not found")
)

// BackupService sequences export and restore end to end. Export:
// snapshot, file collection, checksums, archive packing. Restore:
// unpack, manifest gate, transactional import, file placement.
type BackupService struct {
	db        *gorm.DB
	exporter  *ExportService
	importer  *ImportService
	files     *FileRestoreService
	locks     *BackupLockManager
	uploadDir string
	backupDir string
}

func NewBackupService(db *gorm.DB, uploadDir, backupDir string, locks *BackupLockManager) *BackupService {
	return &BackupService{
		db:        db,
		exporter:  NewExportService(db, uploadDir),
		importer:  NewImportService(db),
		files:     NewFileRestoreService(uploadDir),
		locks:     locks,
		uploadDir: uploadDir,
		backupDir: backupDir,
	}
}

// BackupResult identifies the archive produced by CreateBackup.
type BackupResult struct {
	ArchivePath string `json:"archive_path"`
	Filename    string `json:"filename"`
}

// RestoreSummary reports what a restore changed. A non-empty error list
// with Success false and no returned error is a degraded success: the
// transaction committed but individual records were skipped.
type RestoreSummary struct {
	JournalsRestored     int `json:"journals_restored"`
	NotesRestored        int `json:"notes_restored"`
	JournalNotesRestored int `json:"journal_notes_restored"`
	TemplatesRestored    int `json:"templates_restored"`
	DailyMoodsRestored   int `json:"daily_moods_restored"`
	TranscriptsRestored  int `json:"transcripts_restored"`
	TagsRestored         int `json:"tags_restored"`
	FilesRestored        int `json:"files_restored"`
	ConflictsResolved    int `json:"conflicts_resolved"`

	Success  bool          `json:"success"`
	Warnings []string      `json:"warnings,omitempty"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// CreateBackup exports the user's full dataset and media files into a
// compressed archive under the backup directory. The export either
// succeeds with an archive path or fails atomically; a partially
// written archive is removed.
func (s *BackupService) CreateBackup(ctx context.Context, userID string, progress ProgressFunc) (*BackupResult, error) {
	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	emitProgress(progress, StepInit, 0, 0)

	emitProgress(progress, StepExportData, 1, 20)
	snapshot, err := s.exporter.Snapshot(ctx, userID)
	if err != nil {
		metrics.ObserveBackupRun("export", "failure", time.Since(start))
		return nil, err
	}

	emitProgress(progress, StepCollectFiles, 2, 40)
	files := s.exporter.CollectFiles(snapshot)

	emitProgress(progress, StepChecksum, 3, 60)
	checksums, err := computeChecksums(files)
	if err != nil {
		metrics.ObserveBackupRun("export", "failure", time.Since(start))
		return nil, err
	}

	manifest := Manifest{
		Version:   manifestVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UserID:    userID,
		UserEmail: snapshot.User.Email,
		Username:  snapshot.User.Username,
		Checksums: checksums,
	}

	emitProgress(progress, StepPack, 4, 80)
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		metrics.ObserveBackupRun("export", "failure", time.Since(start))
		return nil, fmt.Errorf("failed to prepare backup directory: %w", err)
	}

	filename := fmt.Sprintf("backup-%s-%s.tar.gz", userID, time.Now().UTC().Format("20060102-150405"))
	archivePath := filepath.Join(s.backupDir, filename)

	out, err := os.Create(archivePath)
	if err != nil {
		metrics.ObserveBackupRun("export", "failure", time.Since(start))
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	if err := writeArchive(out, manifest, snapshot, files); err != nil {
		out.Close()
		os.Remove(archivePath)
		metrics.ObserveBackupRun("export", "failure", time.Since(start))
		return nil, err
	}
	if err := out.Close(); err != nil {
		os.Remove(archivePath)
		metrics.ObserveBackupRun("export", "failure", time.Since(start))
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	if info, err := os.Stat(archivePath); err == nil {
		metrics.ObserveArchiveSize(info.Size())
	}
	metrics.ObserveBackupRun("export", "success", time.Since(start))
	emitProgress(progress, StepDone, 5, 100)

	logger.Info("Backup archive created", map[string]interface{}{
		"user":     userID,
		"filename": filename,
		"journals": len(snapshot.Journals),
		"notes":    len(snapshot.Notes),
		"files":    len(files),
	})

	return &BackupResult{ArchivePath: archivePath, Filename: filename}, nil
}

// RestoreBackup rebuilds the archived dataset inside the target
// account. All database mutations happen inside one transaction; media
// files are placed only after the transaction commits.
func (s *BackupService) RestoreBackup(ctx context.Context, userID, archivePath string, strategy RestoreStrategy, progress ProgressFunc) (*RestoreSummary, error) {
	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	emitProgress(progress, StepInit, 0, 0)

	extractDir, err := os.MkdirTemp("", "journal-restore-*")
	if err != nil {
		metrics.ObserveBackupRun("restore", "failure", time.Since(start))
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(extractDir)

	emitProgress(progress, StepUnpack, 1, 20)
	if err := extractArchive(archivePath, extractDir); err != nil {
		metrics.ObserveBackupRun("restore", "failure", time.Since(start))
		return nil, err
	}

	emitProgress(progress, StepValidate, 2, 40)
	data, err := loadArchiveData(extractDir)
	if err != nil {
		metrics.ObserveBackupRun("restore", "failure", time.Since(start))
		return nil, err
	}
	if err := ValidateManifest(data.Manifest); err != nil {
		metrics.ObserveBackupRun("restore", "failure", time.Since(start))
		return nil, err
	}

	emitProgress(progress, StepImport, 3, 60)
	result, err := s.importer.Run(ctx, userID, data, strategy)
	if err != nil {
		metrics.ObserveBackupRun("restore", "failure", time.Since(start))
		return nil, err
	}

	emitProgress(progress, StepRestoreFiles, 4, 80)
	filesRestored, err := s.files.Restore(extractDir)
	if err != nil {
		// The database is already committed; report the degraded file
		// placement instead of failing the whole restore.
		logger.Error(err, "File restore finished with errors", map[string]interface{}{"user": userID})
	}

	s.backfillDurations(ctx, userID)

	summary := &RestoreSummary{
		JournalsRestored:     result.Journals,
		NotesRestored:        result.Notes,
		JournalNotesRestored: result.JournalNotes,
		TemplatesRestored:    result.Templates,
		DailyMoodsRestored:   result.DailyMoods,
		TranscriptsRestored:  result.Transcripts,
		TagsRestored:         result.Tags,
		FilesRestored:        filesRestored,
		ConflictsResolved:    result.Conflicts,
		Success:              len(result.Errors) == 0,
		Warnings:             result.Warnings,
		Errors:               result.Errors,
	}

	metrics.ObserveBackupRun("restore", "success", time.Since(start))
	emitProgress(progress, StepDone, 5, 100)

	logger.Info("Backup restored", map[string]interface{}{
		"user":      userID,
		"strategy":  string(strategy),
		"journals":  summary.JournalsRestored,
		"notes":     summary.NotesRestored,
		"files":     summary.FilesRestored,
		"conflicts": summary.ConflictsResolved,
		"errors":    len(summary.Errors),
	})

	return summary, nil
}

// ArchiveInfo describes one archive available in the backup directory.
type ArchiveInfo struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// ListBackups returns the archives in the backup directory belonging to
// one user, newest first.
func (s *BackupService) ListBackups(userID string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ArchiveInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	prefix := fmt.Sprintf("backup-%s-", userID)
	archives := make([]ArchiveInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) || !strings.HasSuffix(entry.Name(), ".tar.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
	return archives, nil
}

// ResolveArchive maps a user-supplied archive filename to its path in
// the backup directory. Names that escape the directory or belong to a
// different user are rejected.
func (s *BackupService) ResolveArchive(userID, filename string) (string, error) {
	safe, err := pathguard.SanitizeFilename(filename)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, filename)
	}
	if !strings.HasPrefix(safe, fmt.Sprintf("backup-%s-", userID)) {
		return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, filename)
	}

	path, err := pathguard.SafeJoin(s.backupDir, safe)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, filename)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, filename)
	}
	return path, nil
}

// backfillDurations probes restored videos for journals whose archive
// carried no duration. Best effort; a file that cannot be parsed keeps
// a zero duration.
func (s *BackupService) backfillDurations(ctx context.Context, userID string) {
	var journals []models.Journal
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND duration = 0 AND video_path <> ''", userID).
		Find(&journals).Error
	if err != nil {
		logger.Warn("Failed to load journals for duration backfill", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, journal := range journals {
		path, err := pathguard.SafeJoin(s.uploadDir, journal.VideoPath)
		if err != nil {
			continue
		}
		seconds := media.DurationSeconds(path)
		if seconds <= 0 {
			continue
		}
		if err := s.db.WithContext(ctx).Model(&models.Journal{}).
			Where("id = ?", journal.ID).
			Update("duration", seconds).Error; err != nil {
			logger.Warn("Failed to backfill journal duration", map[string]interface{}{
				"journal": journal.ID,
				"error":   err.Error(),
			})
		}
	}
}
