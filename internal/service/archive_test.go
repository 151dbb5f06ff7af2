package service

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestArchiveRoundTrip(t *testing.T) {
	data := sampleArchiveData()
	snapshot := &userSnapshot{
		Journals:     data.Journals,
		Notes:        data.Notes,
		JournalNotes: data.JournalNotes,
		Templates:    data.Templates,
		DailyMoods:   data.DailyMoods,
		Transcripts:  data.Transcripts,
		Tags:         data.Tags,
	}

	srcDir := t.TempDir()
	mediaPath := filepath.Join(srcDir, "entry.mp4")
	if err := os.WriteFile(mediaPath, []byte("video bytes"), 0o644); err != nil {
		t.Fatalf("failed to write media: %v", err)
	}
	files := []archiveFile{{
		Kind:        fileKindVideo,
		SourcePath:  mediaPath,
		ArchivePath: "files/videos/entry.mp4",
		SizeBytes:   11,
	}}

	checksums, err := computeChecksums(files)
	if err != nil {
		t.Fatalf("failed to checksum: %v", err)
	}
	manifest := *data.Manifest
	manifest.Checksums = checksums

	archivePath := filepath.Join(t.TempDir(), "backup.tar.gz")
	out, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	if err := writeArchive(out, manifest, snapshot, files); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}

	extractDir := t.TempDir()
	if err := extractArchive(archivePath, extractDir); err != nil {
		t.Fatalf("failed to extract: %v", err)
	}

	loaded, err := loadArchiveData(extractDir)
	if err != nil {
		t.Fatalf("failed to load archive data: %v", err)
	}
	if len(loaded.DecodeErrors) != 0 {
		t.Fatalf("unexpected decode errors: %+v", loaded.DecodeErrors)
	}

	if len(loaded.Journals) != 1 || len(loaded.Notes) != 2 || len(loaded.JournalNotes) != 1 ||
		len(loaded.Templates) != 1 || len(loaded.DailyMoods) != 1 ||
		len(loaded.Transcripts) != 1 || len(loaded.Tags) != 1 {
		t.Fatalf("collections did not survive the round trip: %+v", loaded)
	}
	if loaded.Manifest.UserID != manifest.UserID {
		t.Fatal("manifest did not survive the round trip")
	}

	// The extracted media file must match its recorded digest.
	extracted, err := os.ReadFile(filepath.Join(extractDir, "files", "videos", "entry.mp4"))
	if err != nil {
		t.Fatalf("media file missing from archive: %v", err)
	}
	sum := sha256.Sum256(extracted)
	if hex.EncodeToString(sum[:]) != manifest.Checksums["files/videos/entry.mp4"] {
		t.Fatal("checksum mismatch after round trip")
	}
}

func TestExtractArchiveRejectsCorruptStream(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "bad.tar.gz")
	if err := os.WriteFile(archivePath, []byte("this is not gzip"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if err := extractArchive(archivePath, t.TempDir()); !errors.Is(err, ErrInvalidBackup) {
		t.Fatalf("expected ErrInvalidBackup, got %v", err)
	}
}

func TestExtractArchiveDropsTraversalEntries(t *testing.T) {
	base := t.TempDir()
	archivePath := filepath.Join(base, "evil.tar.gz")
	writeTestArchive(t, archivePath, map[string][]byte{
		"manifest.json":     []byte("{}"),
		"../../outside.txt": []byte("escape"),
		"files/inside.txt":  []byte("fine"),
	})

	extractDir := filepath.Join(base, "extract")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		t.Fatalf("failed to create extract dir: %v", err)
	}
	if err := extractArchive(archivePath, extractDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(base, "outside.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("traversal entry escaped the extraction directory")
	}
	if _, err := os.Stat(filepath.Join(extractDir, "files", "inside.txt")); err != nil {
		t.Fatalf("legitimate entry was not extracted: %v", err)
	}
}

func TestLoadArchiveDataRequiresManifest(t *testing.T) {
	if _, err := loadArchiveData(t.TempDir()); !errors.Is(err, ErrInvalidBackup) {
		t.Fatalf("expected ErrInvalidBackup, got %v", err)
	}
}

func TestLoadArchiveDataToleratesMissingDocuments(t *testing.T) {
	dir := t.TempDir()
	manifest := Manifest{
		Version:   manifestVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UserID:    uuid.NewString(),
		Checksums: map[string]string{},
	}
	raw, _ := json.Marshal(manifest)
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	data, err := loadArchiveData(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.Journals) != 0 || len(data.DecodeErrors) != 0 {
		t.Fatalf("missing documents must be tolerated: %+v", data)
	}
}

func TestLoadArchiveDataRejectsMalformedRecordsIndividually(t *testing.T) {
	dir := t.TempDir()
	manifest := Manifest{
		Version:   manifestVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UserID:    uuid.NewString(),
		Checksums: map[string]string{},
	}
	raw, _ := json.Marshal(manifest)
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "database"), 0o755); err != nil {
		t.Fatalf("failed to create database dir: %v", err)
	}

	notes := `[
		{"id": "good-note", "title": "ok", "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T00:00:00Z"},
		{"id": "bad-note", "created_at": 12345}
	]`
	if err := os.WriteFile(filepath.Join(dir, "database", "notes.json"), []byte(notes), 0o644); err != nil {
		t.Fatalf("failed to write notes: %v", err)
	}

	data, err := loadArchiveData(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(data.Notes) != 1 || data.Notes[0].ID != "good-note" {
		t.Fatalf("well-formed record lost: %+v", data.Notes)
	}
	if len(data.DecodeErrors) != 1 || data.DecodeErrors[0].RecordID != "bad-note" {
		t.Fatalf("malformed record not rejected at the boundary: %+v", data.DecodeErrors)
	}
}

// writeTestArchive builds a gzip-compressed tar with arbitrary entry
// names, including ones a well-behaved writer would never produce.
func writeTestArchive(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for name, content := range entries {
		header := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header: %v", err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("failed to write content: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("failed to close gzip: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}
}
