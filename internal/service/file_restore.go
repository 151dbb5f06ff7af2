package service

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"journal-backend/pkg/logger"
	"journal-backend/pkg/pathguard"
)

// Archives produced by older exports prefixed media paths with
// "backup/"; the prefix is stripped on the way out.
const legacyArchivePrefix = "backup/"

// FileRestoreService copies media files from an unpacked archive into
// the live upload directory. Every destination path is resolved through
// the path guard; a rejected or failed file is logged and excluded from
// the count, and the restore continues degraded.
type FileRestoreService struct {
	uploadDir string
}

func NewFileRestoreService(uploadDir string) *FileRestoreService {
	return &FileRestoreService{uploadDir: uploadDir}
}

// Restore walks every file under the unpacked archive's files/
// directory and places it under the upload root. It returns the number
// of files restored.
func (s *FileRestoreService) Restore(extractDir string) (int, error) {
	filesRoot := filepath.Join(extractDir, "files")
	if _, err := os.Stat(filesRoot); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to inspect archive files: %w", err)
	}

	restored := 0
	err := filepath.WalkDir(filesRoot, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(filesRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		rel = strings.TrimPrefix(rel, legacyArchivePrefix)

		if s.restoreFile(p, rel) {
			restored++
		}
		return nil
	})
	if err != nil {
		return restored, fmt.Errorf("failed to enumerate archive files: %w", err)
	}

	return restored, nil
}

func (s *FileRestoreService) restoreFile(sourcePath, rel string) bool {
	target, err := pathguard.SafeJoin(s.uploadDir, rel)
	if err != nil {
		logger.Warn("Blocked restore of file with unsafe path", map[string]interface{}{
			"path": rel,
		})
		return false
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		logger.Error(err, "Failed to prepare restore destination", map[string]interface{}{"path": rel})
		return false
	}

	if err := copyFile(sourcePath, target); err != nil {
		logger.Error(err, "Failed to restore file", map[string]interface{}{"path": rel})
		return false
	}

	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
