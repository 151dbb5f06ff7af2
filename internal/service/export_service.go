package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"journal-backend/internal/models"
	"journal-backend/pkg/logger"
	"journal-backend/pkg/pathguard"
)

// Archive record shapes. These are the JSON documents written under
// database/ and the only form in which entity data crosses the archive
// boundary.

type backupJournal struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Title         string     `json:"title"`
	VideoPath     string     `json:"video_path"`
	ThumbnailPath string     `json:"thumbnail_path"`
	Duration      float64    `json:"duration"`
	HLSPath       string     `json:"hls_path"`
	HLSStatus     string     `json:"hls_status"`
	Mood          string     `json:"mood"`
	Emotion       string     `json:"emotion"`
	EmotionScore  float64    `json:"emotion_score"`
}

type backupNote struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Icon      string     `json:"icon"`
	Color     string     `json:"color"`
	Position  int        `json:"position"`
	ParentID  *string    `json:"parent_id"`
}

type backupJournalNote struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	JournalID string    `json:"journal_id"`
	NoteID    string    `json:"note_id"`
}

type backupTemplate struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Icon      string    `json:"icon"`
	Color     string    `json:"color"`
}

type backupDailyMood struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Date      time.Time `json:"date"`
	Mood      string    `json:"mood"`
	TimeOfDay string    `json:"time_of_day"`
	Notes     string    `json:"notes"`
}

type backupTranscript struct {
	ID        string                    `json:"id"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
	JournalID string                    `json:"journal_id"`
	Text      string                    `json:"text"`
	Segments  models.TranscriptSegments `json:"segments"`
}

type backupTag struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	JournalID string    `json:"journal_id"`
	Tag       string    `json:"tag"`
}

// userSnapshot is the fully materialized in-memory export of one user.
type userSnapshot struct {
	User         models.User
	Journals     []backupJournal
	Notes        []backupNote
	JournalNotes []backupJournalNote
	Templates    []backupTemplate
	DailyMoods   []backupDailyMood
	Transcripts  []backupTranscript
	Tags         []backupTag
}

// Media file kinds collected during export.
const (
	fileKindVideo     = "video"
	fileKindThumbnail = "thumbnail"
	fileKindHLS       = "hls"
)

type archiveFile struct {
	Kind        string
	SourcePath  string
	ArchivePath string
	SizeBytes   int64
}

// ExportService reads every row a user owns across the seven related
// tables and resolves the media files those rows reference.
type ExportService struct {
	db        *gorm.DB
	uploadDir string
}

func NewExportService(db *gorm.DB, uploadDir string) *ExportService {
	return &ExportService{db: db, uploadDir: uploadDir}
}

func (s *ExportService) Snapshot(ctx context.Context, userID string) (*userSnapshot, error) {
	db := s.db.WithContext(ctx)
	snapshot := &userSnapshot{}

	if err := db.First(&snapshot.User, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var journals []models.Journal
	if err := db.Where("user_id = ?", userID).Order("created_at ASC").Find(&journals).Error; err != nil {
		return nil, fmt.Errorf("failed to load journals: %w", err)
	}
	snapshot.Journals = make([]backupJournal, len(journals))
	for i, journal := range journals {
		snapshot.Journals[i] = backupJournal{
			ID:            journal.ID,
			CreatedAt:     journal.CreatedAt.UTC(),
			UpdatedAt:     journal.UpdatedAt.UTC(),
			Title:         journal.Title,
			VideoPath:     journal.VideoPath,
			ThumbnailPath: journal.ThumbnailPath,
			Duration:      journal.Duration,
			HLSPath:       journal.HLSPath,
			HLSStatus:     journal.HLSStatus,
			Mood:          journal.Mood,
			Emotion:       journal.Emotion,
			EmotionScore:  journal.EmotionScore,
		}
	}

	// Soft-deleted notes are still the user's data and travel with the
	// backup.
	var notes []models.Note
	if err := db.Unscoped().Where("user_id = ?", userID).Order("created_at ASC").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	snapshot.Notes = make([]backupNote, len(notes))
	for i, note := range notes {
		snapshot.Notes[i] = backupNote{
			ID:        note.ID,
			CreatedAt: note.CreatedAt.UTC(),
			UpdatedAt: note.UpdatedAt.UTC(),
			DeletedAt: deletedAtPtr(note.DeletedAt),
			Title:     note.Title,
			Content:   note.Content,
			Icon:      note.Icon,
			Color:     note.Color,
			Position:  note.Position,
			ParentID:  note.ParentID,
		}
	}

	var journalNotes []models.JournalNote
	if err := db.Joins("JOIN journals ON journals.id = journal_notes.journal_id").
		Where("journals.user_id = ?", userID).
		Order("journal_notes.created_at ASC").
		Find(&journalNotes).Error; err != nil {
		return nil, fmt.Errorf("failed to load journal notes: %w", err)
	}
	snapshot.JournalNotes = make([]backupJournalNote, len(journalNotes))
	for i, link := range journalNotes {
		snapshot.JournalNotes[i] = backupJournalNote{
			ID:        link.ID,
			CreatedAt: link.CreatedAt.UTC(),
			JournalID: link.JournalID,
			NoteID:    link.NoteID,
		}
	}

	var templates []models.Template
	if err := db.Where("user_id = ?", userID).Order("created_at ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	snapshot.Templates = make([]backupTemplate, len(templates))
	for i, template := range templates {
		snapshot.Templates[i] = backupTemplate{
			ID:        template.ID,
			CreatedAt: template.CreatedAt.UTC(),
			UpdatedAt: template.UpdatedAt.UTC(),
			Title:     template.Title,
			Content:   template.Content,
			Icon:      template.Icon,
			Color:     template.Color,
		}
	}

	var moods []models.DailyMood
	if err := db.Where("user_id = ?", userID).Order("date ASC").Find(&moods).Error; err != nil {
		return nil, fmt.Errorf("failed to load daily moods: %w", err)
	}
	snapshot.DailyMoods = make([]backupDailyMood, len(moods))
	for i, mood := range moods {
		snapshot.DailyMoods[i] = backupDailyMood{
			ID:        mood.ID,
			CreatedAt: mood.CreatedAt.UTC(),
			UpdatedAt: mood.UpdatedAt.UTC(),
			Date:      mood.Date.UTC(),
			Mood:      mood.Mood,
			TimeOfDay: mood.TimeOfDay,
			Notes:     mood.Notes,
		}
	}

	var transcripts []models.Transcript
	if err := db.Joins("JOIN journals ON journals.id = transcripts.journal_id").
		Where("journals.user_id = ?", userID).
		Order("transcripts.created_at ASC").
		Find(&transcripts).Error; err != nil {
		return nil, fmt.Errorf("failed to load transcripts: %w", err)
	}
	snapshot.Transcripts = make([]backupTranscript, len(transcripts))
	for i, transcript := range transcripts {
		snapshot.Transcripts[i] = backupTranscript{
			ID:        transcript.ID,
			CreatedAt: transcript.CreatedAt.UTC(),
			UpdatedAt: transcript.UpdatedAt.UTC(),
			JournalID: transcript.JournalID,
			Text:      transcript.Text,
			Segments:  transcript.Segments,
		}
	}

	var tags []models.JournalTag
	if err := db.Joins("JOIN journals ON journals.id = journal_tags.journal_id").
		Where("journals.user_id = ?", userID).
		Order("journal_tags.created_at ASC").
		Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	snapshot.Tags = make([]backupTag, len(tags))
	for i, tag := range tags {
		snapshot.Tags[i] = backupTag{
			ID:        tag.ID,
			CreatedAt: tag.CreatedAt.UTC(),
			JournalID: tag.JournalID,
			Tag:       tag.Tag,
		}
	}

	return snapshot, nil
}

// CollectFiles resolves every media file referenced by the snapshot.
// Missing files are logged and excluded; a partial media set does not
// fail the export.
func (s *ExportService) CollectFiles(snapshot *userSnapshot) []archiveFile {
	var files []archiveFile

	for _, journal := range snapshot.Journals {
		if journal.VideoPath != "" {
			if f, ok := s.resolveFile(fileKindVideo, journal.VideoPath, path.Join("files/videos", path.Base(journal.VideoPath))); ok {
				files = append(files, f)
			}
		}
		if journal.ThumbnailPath != "" {
			if f, ok := s.resolveFile(fileKindThumbnail, journal.ThumbnailPath, path.Join("files/thumbnails", path.Base(journal.ThumbnailPath))); ok {
				files = append(files, f)
			}
		}
		if journal.HLSStatus == models.HLSStatusCompleted && journal.HLSPath != "" {
			files = append(files, s.collectHLSDir(journal.ID, journal.HLSPath)...)
		}
	}

	return files
}

func (s *ExportService) resolveFile(kind, storedPath, archivePath string) (archiveFile, bool) {
	source, err := pathguard.ResolveWithin(s.uploadDir, storedPath)
	if err != nil {
		logger.Warn("Skipping media file with unsafe path", map[string]interface{}{
			"kind": kind,
			"path": storedPath,
		})
		return archiveFile{}, false
	}

	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Referenced media file is missing", map[string]interface{}{
				"kind": kind,
				"path": storedPath,
			})
			return archiveFile{}, false
		}
		logger.Error(err, "Failed to inspect media file", map[string]interface{}{"path": storedPath})
		return archiveFile{}, false
	}
	if !info.Mode().IsRegular() {
		return archiveFile{}, false
	}

	return archiveFile{
		Kind:        kind,
		SourcePath:  source,
		ArchivePath: archivePath,
		SizeBytes:   info.Size(),
	}, true
}

func (s *ExportService) collectHLSDir(journalID, hlsPath string) []archiveFile {
	root, err := pathguard.ResolveWithin(s.uploadDir, hlsPath)
	if err != nil {
		logger.Warn("Skipping HLS directory with unsafe path", map[string]interface{}{
			"journal": journalID,
			"path":    hlsPath,
		})
		return nil
	}

	var files []archiveFile
	walkErr := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		files = append(files, archiveFile{
			Kind:        fileKindHLS,
			SourcePath:  p,
			ArchivePath: path.Join("files/hls", journalID, filepath.ToSlash(rel)),
			SizeBytes:   info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, os.ErrNotExist) {
			logger.Warn("HLS directory is missing", map[string]interface{}{"journal": journalID, "path": hlsPath})
			return files
		}
		logger.Error(walkErr, "Failed to enumerate HLS directory", map[string]interface{}{"journal": journalID})
	}
	return files
}

func deletedAtPtr(value gorm.DeletedAt) *time.Time {
	if value.Valid {
		t := value.Time.UTC()
		return &t
	}
	return nil
}
