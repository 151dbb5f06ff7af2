package service

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"journal-backend/pkg/logger"
	"journal-backend/pkg/pathguard"
)

// archiveData is the decoded content of an unpacked archive. Absent
// database documents are tolerated (that entity kind is skipped);
// records failing to decode are rejected at this boundary and recorded.
type archiveData struct {
	Manifest     *Manifest
	Journals     []backupJournal
	Notes        []backupNote
	JournalNotes []backupJournalNote
	Templates    []backupTemplate
	DailyMoods   []backupDailyMood
	Transcripts  []backupTranscript
	Tags         []backupTag

	DecodeErrors []ImportError
}

// extractArchive unpacks a gzip-compressed tar archive into destDir.
// Every entry path is resolved through the path guard; an entry that
// escapes the scratch directory is dropped and logged.
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: corrupt gzip stream", ErrInvalidBackup)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: corrupt tar stream", ErrInvalidBackup)
		}

		target, guardErr := pathguard.ResolveWithin(destDir, header.Name)
		if guardErr != nil {
			logger.Warn("Dropping archive entry with unsafe path", map[string]interface{}{
				"entry": header.Name,
			})
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to prepare %s: %w", header.Name, err)
			}
			dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", header.Name, err)
			}
			if _, err := io.Copy(dst, tr); err != nil {
				dst.Close()
				return fmt.Errorf("failed to write %s: %w", header.Name, err)
			}
			if err := dst.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", header.Name, err)
			}
		default:
			// Symlinks and special files never belong in a backup.
			logger.Warn("Dropping unsupported archive entry", map[string]interface{}{
				"entry": header.Name,
			})
		}
	}
}

// loadArchiveData reads the unpacked archive. A missing manifest is
// fatal; missing database documents are not.
func loadArchiveData(dir string) (*archiveData, error) {
	data := &archiveData{}

	manifestPath := filepath.Join(dir, manifestEntryName)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: archive has no manifest", ErrInvalidBackup)
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(raw, manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest is not valid JSON", ErrInvalidBackup)
	}
	data.Manifest = manifest

	data.Journals = decodeCollection[backupJournal](dir, journalsEntryName, "journals", &data.DecodeErrors)
	data.Notes = decodeCollection[backupNote](dir, notesEntryName, "notes", &data.DecodeErrors)
	data.JournalNotes = decodeCollection[backupJournalNote](dir, journalNotesEntryName, "journal_notes", &data.DecodeErrors)
	data.Templates = decodeCollection[backupTemplate](dir, templatesEntryName, "templates", &data.DecodeErrors)
	data.DailyMoods = decodeCollection[backupDailyMood](dir, dailyMoodsEntryName, "daily_moods", &data.DecodeErrors)
	data.Transcripts = decodeCollection[backupTranscript](dir, transcriptsEntryName, "transcripts", &data.DecodeErrors)
	data.Tags = decodeCollection[backupTag](dir, tagsEntryName, "journal_tags", &data.DecodeErrors)

	return data, nil
}

// decodeCollection reads one database document and decodes it record by
// record, so a single malformed record never discards the rest of the
// collection.
func decodeCollection[T any](dir, entryName, table string, errs *[]ImportError) []T {
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(entryName)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("Archive has no document for table", map[string]interface{}{"table": table})
			return nil
		}
		*errs = append(*errs, ImportError{Table: table, Message: err.Error()})
		return nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		*errs = append(*errs, ImportError{Table: table, Message: fmt.Sprintf("document is not a JSON array: %v", err)})
		return nil
	}

	out := make([]T, 0, len(records))
	for i, record := range records {
		var decoded T
		if err := json.Unmarshal(record, &decoded); err != nil {
			*errs = append(*errs, ImportError{
				Table:    table,
				RecordID: recordIdentifier(record, i),
				Message:  fmt.Sprintf("record does not match schema: %v", err),
			})
			continue
		}
		out = append(out, decoded)
	}
	return out
}

func recordIdentifier(record json.RawMessage, index int) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(record, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return fmt.Sprintf("index %d", index)
}
