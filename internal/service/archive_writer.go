package service

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Archive entry names. The seven database documents are written in
// dependency order for readability; the importer orders on its own.
const (
	manifestEntryName = "manifest.json"

	journalsEntryName     = "database/journals.json"
	notesEntryName        = "database/notes.json"
	journalNotesEntryName = "database/journalNotes.json"
	templatesEntryName    = "database/templates.json"
	dailyMoodsEntryName   = "database/dailyMoods.json"
	transcriptsEntryName  = "database/transcripts.json"
	tagsEntryName         = "database/tags.json"
)

// computeChecksums digests every collected media file with SHA-256
// before packing, keyed by archive-relative path.
func computeChecksums(files []archiveFile) (map[string]string, error) {
	checksums := make(map[string]string, len(files))
	for _, file := range files {
		digest, err := checksumFile(file.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", file.ArchivePath, err)
		}
		checksums[file.ArchivePath] = digest
	}
	return checksums, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeArchive serializes the manifest, the seven entity documents and
// every collected media file into a gzip-compressed tar stream on w.
// Any stream failure aborts the whole operation; no partial archive is
// valid output.
func writeArchive(w io.Writer, manifest Manifest, snapshot *userSnapshot, files []archiveFile) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if err := writeTarJSON(tw, manifestEntryName, manifest); err != nil {
		return err
	}

	documents := []struct {
		name string
		data interface{}
	}{
		{journalsEntryName, snapshot.Journals},
		{notesEntryName, snapshot.Notes},
		{journalNotesEntryName, snapshot.JournalNotes},
		{templatesEntryName, snapshot.Templates},
		{dailyMoodsEntryName, snapshot.DailyMoods},
		{transcriptsEntryName, snapshot.Transcripts},
		{tagsEntryName, snapshot.Tags},
	}
	for _, doc := range documents {
		if err := writeTarJSON(tw, doc.name, doc.data); err != nil {
			return err
		}
	}

	for _, file := range files {
		if err := writeTarFile(tw, file); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalise archive: %w", err)
	}

	// Closing the gzip writer drains the downstream compression stage.
	// Signalling completion before this returns would hand the caller a
	// truncated archive.
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush compressed archive: %w", err)
	}

	return nil
}

func writeTarJSON(tw *tar.Writer, name string, data interface{}) error {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(payload)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := tw.Write(payload); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}

func writeTarFile(tw *tar.Writer, file archiveFile) error {
	src, err := os.Open(file.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to open media file %s: %w", file.ArchivePath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat media file %s: %w", file.ArchivePath, err)
	}

	header := &tar.Header{
		Name:    file.ArchivePath,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", file.ArchivePath, err)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("failed to write media file %s: %w", file.ArchivePath, err)
	}
	return nil
}
