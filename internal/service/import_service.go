package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"journal-backend/internal/models"
	"journal-backend/pkg/logger"
)

// RestoreStrategy is the conflict policy applied during import.
type RestoreStrategy string

const (
	StrategyMerge   RestoreStrategy = "merge"
	StrategyReplace RestoreStrategy = "replace"
	StrategySkip    RestoreStrategy = "skip"
)

func ParseStrategy(value string) (RestoreStrategy, error) {
	switch RestoreStrategy(value) {
	case StrategyMerge, StrategyReplace, StrategySkip:
		return RestoreStrategy(value), nil
	default:
		return "", fmt.Errorf("unknown restore strategy %q", value)
	}
}

// ImportError describes one record that could not be imported. The
// identifier is the record's original archive identifier.
type ImportError struct {
	Table    string `json:"table"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message"`
}

type importResult struct {
	Journals     int
	Notes        int
	JournalNotes int
	Templates    int
	DailyMoods   int
	Transcripts  int
	Tags         int

	// Conflicts counts records whose conflict policy resolved them
	// without an insert: skip-strategy duplicates, dropped dangling
	// links, and nulled note parents.
	Conflicts int

	Warnings []string
	Errors   []ImportError
}

// idMaps holds the old-to-new identifier mappings for one restore
// invocation. It is constructed fresh per run and passed explicitly so
// concurrent restores can never interfere.
type idMaps struct {
	journals map[string]string
	notes    map[string]string
}

func newIDMaps() *idMaps {
	return &idMaps{
		journals: make(map[string]string),
		notes:    make(map[string]string),
	}
}

// ImportService rebuilds a user's dataset from decoded archive records.
// Every row is inserted with a freshly minted identifier; archive
// identifiers never reach the database.
type ImportService struct {
	db *gorm.DB
}

func NewImportService(db *gorm.DB) *ImportService {
	return &ImportService{db: db}
}

// Run imports the decoded collections into the target account inside a
// single transaction. Individual record failures are collected and do
// not abort the transaction; infrastructure failures roll back every
// insertion made so far.
func (s *ImportService) Run(ctx context.Context, targetUserID string, data *archiveData, strategy RestoreStrategy) (*importResult, error) {
	result := &importResult{}
	result.Errors = append(result.Errors, data.DecodeErrors...)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if strategy == StrategyReplace {
			if err := s.deleteExisting(tx, targetUserID); err != nil {
				return err
			}
		}

		maps := newIDMaps()

		if err := s.importJournals(tx, targetUserID, data.Journals, strategy, maps, result); err != nil {
			return err
		}
		if err := s.importNotes(tx, targetUserID, data.Notes, strategy, maps, result); err != nil {
			return err
		}
		if err := s.importJournalNotes(tx, data.JournalNotes, maps, result); err != nil {
			return err
		}
		if err := s.importTemplates(tx, targetUserID, data.Templates, strategy, result); err != nil {
			return err
		}
		if err := s.importDailyMoods(tx, targetUserID, data.DailyMoods, strategy, result); err != nil {
			return err
		}
		if err := s.importTranscripts(tx, data.Transcripts, maps, result); err != nil {
			return err
		}
		return s.importTags(tx, data.Tags, maps, result)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// deleteExisting clears the target user's rows, children before
// parents, so the replace strategy never trips a foreign key.
func (s *ImportService) deleteExisting(tx *gorm.DB, userID string) error {
	journalIDs := tx.Model(&models.Journal{}).Select("id").Where("user_id = ?", userID)

	if err := tx.Where("journal_id IN (?)", journalIDs).Delete(&models.JournalTag{}).Error; err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	if err := tx.Where("journal_id IN (?)", journalIDs).Delete(&models.Transcript{}).Error; err != nil {
		return fmt.Errorf("failed to clear transcripts: %w", err)
	}
	if err := tx.Where("journal_id IN (?)", journalIDs).Delete(&models.JournalNote{}).Error; err != nil {
		return fmt.Errorf("failed to clear journal notes: %w", err)
	}
	if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&models.Note{}).Error; err != nil {
		return fmt.Errorf("failed to clear notes: %w", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.Journal{}).Error; err != nil {
		return fmt.Errorf("failed to clear journals: %w", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.Template{}).Error; err != nil {
		return fmt.Errorf("failed to clear templates: %w", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.DailyMood{}).Error; err != nil {
		return fmt.Errorf("failed to clear daily moods: %w", err)
	}
	return nil
}

// Journals have no foreign dependencies inside the export, so they
// import first and unconditionally.
func (s *ImportService) importJournals(tx *gorm.DB, userID string, journals []backupJournal, strategy RestoreStrategy, maps *idMaps, result *importResult) error {
	for _, record := range journals {
		if strategy == StrategySkip {
			var count int64
			if err := tx.Model(&models.Journal{}).
				Where("user_id = ? AND title = ? AND created_at = ?", userID, record.Title, record.CreatedAt).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				result.Conflicts++
				continue
			}
		}

		newID := uuid.NewString()
		row := models.Journal{
			ID:            newID,
			CreatedAt:     record.CreatedAt,
			UpdatedAt:     record.UpdatedAt,
			UserID:        userID,
			Title:         record.Title,
			VideoPath:     record.VideoPath,
			ThumbnailPath: record.ThumbnailPath,
			Duration:      record.Duration,
			HLSPath:       record.HLSPath,
			HLSStatus:     record.HLSStatus,
			Mood:          record.Mood,
			Emotion:       record.Emotion,
			EmotionScore:  record.EmotionScore,
		}

		ok, err := s.insertRecord(tx, "journals", record.ID, &row, result)
		if err != nil {
			return err
		}
		if ok {
			maps.journals[record.ID] = newID
			result.Journals++
		}
	}
	return nil
}

// Notes self-reference through ParentID and the schema enforces the
// relation, so every row is inserted as a root first and the tree is
// re-linked afterwards. Archive order carries no parent-before-child
// guarantee: a note re-parented under a later-created note precedes its
// parent in the export.
func (s *ImportService) importNotes(tx *gorm.DB, userID string, notes []backupNote, strategy RestoreStrategy, maps *idMaps, result *importResult) error {
	pending := make([]backupNote, 0, len(notes))
	for _, record := range notes {
		if strategy == StrategySkip {
			var count int64
			if err := tx.Unscoped().Model(&models.Note{}).
				Where("user_id = ? AND title = ? AND created_at = ?", userID, record.Title, record.CreatedAt).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				result.Conflicts++
				continue
			}
		}
		maps.notes[record.ID] = uuid.NewString()
		pending = append(pending, record)
	}

	for _, record := range pending {
		row := models.Note{
			ID:        maps.notes[record.ID],
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
			DeletedAt: deletedAtValue(record.DeletedAt),
			UserID:    userID,
			Title:     record.Title,
			Content:   record.Content,
			Icon:      record.Icon,
			Color:     record.Color,
			Position:  record.Position,
		}

		ok, err := s.insertRecord(tx, "notes", record.ID, &row, result)
		if err != nil {
			return err
		}
		if ok {
			result.Notes++
		} else {
			delete(maps.notes, record.ID)
		}
	}

	return s.relinkNoteParents(tx, pending, maps, result)
}

// relinkNoteParents rewrites ParentID once every surviving note row
// exists. A parent absent from the archive, or dropped during insert,
// leaves the note at the root with a warning.
func (s *ImportService) relinkNoteParents(tx *gorm.DB, notes []backupNote, maps *idMaps, result *importResult) error {
	for _, record := range notes {
		if record.ParentID == nil {
			continue
		}
		newID, inserted := maps.notes[record.ID]
		if !inserted {
			continue
		}

		parentID, found := maps.notes[*record.ParentID]
		if !found {
			result.Conflicts++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("note %s: parent %s not present in archive, restored without parent", record.ID, *record.ParentID))
			continue
		}

		if err := tx.Unscoped().Model(&models.Note{}).
			Where("id = ?", newID).
			UpdateColumn("parent_id", parentID).Error; err != nil {
			return fmt.Errorf("failed to link note %s to its parent: %w", record.ID, err)
		}
	}
	return nil
}

// Links whose journal or note did not import are dropped, never
// inserted with a dangling reference.
func (s *ImportService) importJournalNotes(tx *gorm.DB, links []backupJournalNote, maps *idMaps, result *importResult) error {
	for _, record := range links {
		journalID, journalOK := maps.journals[record.JournalID]
		noteID, noteOK := maps.notes[record.NoteID]
		if !journalOK || !noteOK {
			result.Conflicts++
			continue
		}

		row := models.JournalNote{
			ID:        uuid.NewString(),
			CreatedAt: record.CreatedAt,
			JournalID: journalID,
			NoteID:    noteID,
		}

		ok, err := s.insertRecord(tx, "journal_notes", record.ID, &row, result)
		if err != nil {
			return err
		}
		if ok {
			result.JournalNotes++
		}
	}
	return nil
}

func (s *ImportService) importTemplates(tx *gorm.DB, userID string, templates []backupTemplate, strategy RestoreStrategy, result *importResult) error {
	for _, record := range templates {
		if strategy == StrategySkip {
			var count int64
			if err := tx.Model(&models.Template{}).
				Where("user_id = ? AND title = ?", userID, record.Title).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				result.Conflicts++
				continue
			}
		}

		row := models.Template{
			ID:        uuid.NewString(),
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
			UserID:    userID,
			Title:     record.Title,
			Content:   record.Content,
			Icon:      record.Icon,
			Color:     record.Color,
		}

		ok, err := s.insertRecord(tx, "templates", record.ID, &row, result)
		if err != nil {
			return err
		}
		if ok {
			result.Templates++
		}
	}
	return nil
}

func (s *ImportService) importDailyMoods(tx *gorm.DB, userID string, moods []backupDailyMood, strategy RestoreStrategy, result *importResult) error {
	for _, record := range moods {
		if strategy == StrategySkip {
			var count int64
			if err := tx.Model(&models.DailyMood{}).
				Where("user_id = ? AND date = ? AND time_of_day = ?", userID, record.Date, record.TimeOfDay).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				result.Conflicts++
				continue
			}
		}

		row := models.DailyMood{
			ID:        uuid.NewString(),
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
			UserID:    userID,
			Date:      record.Date,
			Mood:      record.Mood,
			TimeOfDay: record.TimeOfDay,
			Notes:     record.Notes,
		}

		ok, err := s.insertRecord(tx, "daily_moods", record.ID, &row, result)
		if err != nil {
			return err
		}
		if ok {
			result.DailyMoods++
		}
	}
	return nil
}

func (s *ImportService) importTranscripts(tx *gorm.DB, transcripts []backupTranscript, maps *idMaps, result *importResult) error {
	for _, record := range transcripts {
		journalID, found := maps.journals[record.JournalID]
		if !found {
			result.Conflicts++
			continue
		}

		row := models.Transcript{
			ID:        uuid.NewString(),
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
			JournalID: journalID,
			Text:      record.Text,
			Segments:  record.Segments,
		}

		ok, err := s.insertRecord(tx, "transcripts", record.ID, &row, result)
		if err != nil {
			return err
		}
		if ok {
			result.Transcripts++
		}
	}
	return nil
}

func (s *ImportService) importTags(tx *gorm.DB, tags []backupTag, maps *idMaps, result *importResult) error {
	for _, record := range tags {
		journalID, found := maps.journals[record.JournalID]
		if !found {
			result.Conflicts++
			continue
		}

		row := models.JournalTag{
			ID:        uuid.NewString(),
			CreatedAt: record.CreatedAt,
			JournalID: journalID,
			Tag:       record.Tag,
		}

		ok, err := s.insertRecord(tx, "journal_tags", record.ID, &row, result)
		if err != nil {
			return err
		}
		if ok {
			result.Tags++
		}
	}
	return nil
}

// insertRecord inserts one row behind a savepoint. A constraint
// violation rolls back only that row and is recorded against the
// original archive identifier; an infrastructure failure is returned
// and aborts the whole transaction.
func (s *ImportService) insertRecord(tx *gorm.DB, table, originalID string, row interface{}, result *importResult) (bool, error) {
	if err := tx.SavePoint("import_record").Error; err != nil {
		return false, fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
		if isFatalImportError(err) {
			return false, err
		}
		if rbErr := tx.RollbackTo("import_record").Error; rbErr != nil {
			return false, fmt.Errorf("failed to roll back record: %w", rbErr)
		}
		logger.Warn("Skipping record that failed to import", map[string]interface{}{
			"table":  table,
			"record": originalID,
			"error":  err.Error(),
		})
		result.Errors = append(result.Errors, ImportError{
			Table:    table,
			RecordID: originalID,
			Message:  err.Error(),
		})
		return false, nil
	}

	return true, nil
}

// isFatalImportError separates infrastructure failures, which must roll
// back the whole restore, from per-record failures, which must not.
func isFatalImportError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidDB)
}

func deletedAtValue(value *time.Time) gorm.DeletedAt {
	if value == nil || value.IsZero() {
		return gorm.DeletedAt{}
	}
	return gorm.DeletedAt{Time: value.UTC(), Valid: true}
}
