package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"journal-backend/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Foreign keys on so the tests see the same constraints the real
	// schema enforces.
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "hashed",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func countFor(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()

	var count int64
	if err := db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}

// sampleArchiveData builds a decoded archive with a journal, a small
// note tree, a link, a template, a mood, a transcript and a tag.
func sampleArchiveData() *archiveData {
	now := time.Now().UTC().Truncate(time.Second)
	journalID := uuid.NewString()
	parentID := uuid.NewString()
	childID := uuid.NewString()

	return &archiveData{
		Manifest: &Manifest{
			Version:   manifestVersion,
			Timestamp: now.Format(time.RFC3339),
			UserID:    uuid.NewString(),
			Checksums: map[string]string{},
		},
		Journals: []backupJournal{{
			ID:        journalID,
			CreatedAt: now,
			UpdatedAt: now,
			Title:     "Morning reflections",
			VideoPath: "videos/morning.mp4",
			Duration:  92.5,
			HLSStatus: models.HLSStatusCompleted,
			Mood:      "calm",
		}},
		Notes: []backupNote{
			{
				ID:        parentID,
				CreatedAt: now,
				UpdatedAt: now,
				Title:     "Goals",
				Content:   "Quarterly goals",
			},
			{
				ID:        childID,
				CreatedAt: now.Add(time.Minute),
				UpdatedAt: now.Add(time.Minute),
				Title:     "Fitness",
				Content:   "Run three times a week",
				ParentID:  &parentID,
			},
		},
		JournalNotes: []backupJournalNote{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			JournalID: journalID,
			NoteID:    childID,
		}},
		Templates: []backupTemplate{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			UpdatedAt: now,
			Title:     "Daily review",
			Content:   "What went well today?",
		}},
		DailyMoods: []backupDailyMood{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			UpdatedAt: now,
			Date:      now.Truncate(24 * time.Hour),
			Mood:      "happy",
			TimeOfDay: "morning",
		}},
		Transcripts: []backupTranscript{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			UpdatedAt: now,
			JournalID: journalID,
			Text:      "Today I want to talk about...",
			Segments: models.TranscriptSegments{
				{Start: 0, End: 2.4, Text: "Today I want"},
				{Start: 2.4, End: 4.8, Text: "to talk about"},
			},
		}},
		Tags: []backupTag{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			JournalID: journalID,
			Tag:       "gratitude",
		}},
	}
}
