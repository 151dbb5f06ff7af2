package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"journal-backend/internal/models"
)

func TestImportRestoresFullDataset(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")
	data := sampleArchiveData()

	importer := NewImportService(db)
	result, err := importer.Run(context.Background(), user.ID, data, StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected record errors: %+v", result.Errors)
	}
	if result.Journals != 1 || result.Notes != 2 || result.JournalNotes != 1 ||
		result.Templates != 1 || result.DailyMoods != 1 || result.Transcripts != 1 || result.Tags != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
}

func TestImportNeverReusesArchiveIdentifiers(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")
	data := sampleArchiveData()
	archiveJournalID := data.Journals[0].ID

	importer := NewImportService(db)
	if _, err := importer.Run(context.Background(), user.ID, data, StrategyMerge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := countFor(t, db, &models.Journal{}, "id = ?", archiveJournalID); n != 0 {
		t.Fatal("archive identifier leaked into the database")
	}
	if n := countFor(t, db, &models.Journal{}, "user_id = ?", user.ID); n != 1 {
		t.Fatalf("expected one restored journal, got %d", n)
	}
}

func TestImportRemapsNoteTree(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")
	data := sampleArchiveData()

	importer := NewImportService(db)
	if _, err := importer.Run(context.Background(), user.ID, data, StrategyMerge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parent, child models.Note
	if err := db.First(&parent, "user_id = ? AND title = ?", user.ID, "Goals").Error; err != nil {
		t.Fatalf("parent note missing: %v", err)
	}
	if err := db.First(&child, "user_id = ? AND title = ?", user.ID, "Fitness").Error; err != nil {
		t.Fatalf("child note missing: %v", err)
	}

	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("child parent not remapped: %+v", child.ParentID)
	}
}

func TestImportLinksChildListedBeforeParent(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")

	// A note re-parented under a later-created note precedes its parent
	// in created_at export order.
	now := time.Now().UTC()
	parentID := uuid.NewString()
	childID := uuid.NewString()
	data := &archiveData{
		Notes: []backupNote{
			{
				ID:        childID,
				CreatedAt: now,
				UpdatedAt: now,
				Title:     "Fitness",
				ParentID:  &parentID,
			},
			{
				ID:        parentID,
				CreatedAt: now.Add(time.Minute),
				UpdatedAt: now.Add(time.Minute),
				Title:     "Goals",
			},
		},
	}

	importer := NewImportService(db)
	result, err := importer.Run(context.Background(), user.ID, data, StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected record errors: %+v", result.Errors)
	}
	if result.Notes != 2 {
		t.Fatalf("expected both notes to import, got %d", result.Notes)
	}

	var parent, child models.Note
	if err := db.First(&parent, "user_id = ? AND title = ?", user.ID, "Goals").Error; err != nil {
		t.Fatalf("parent note missing: %v", err)
	}
	if err := db.First(&child, "user_id = ? AND title = ?", user.ID, "Fitness").Error; err != nil {
		t.Fatalf("child note missing: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("child parent not linked: %+v", child.ParentID)
	}
}

func TestImportNullsParentAbsentFromArchive(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")

	missingParent := uuid.NewString()
	now := time.Now().UTC()
	data := &archiveData{
		Notes: []backupNote{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			UpdatedAt: now,
			Title:     "Orphan",
			ParentID:  &missingParent,
		}},
	}

	importer := NewImportService(db)
	result, err := importer.Run(context.Background(), user.ID, data, StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var note models.Note
	if err := db.First(&note, "user_id = ? AND title = ?", user.ID, "Orphan").Error; err != nil {
		t.Fatalf("note missing: %v", err)
	}
	if note.ParentID != nil {
		t.Fatalf("expected nulled parent, got %v", *note.ParentID)
	}
	if len(result.Warnings) == 0 || !strings.Contains(result.Warnings[0], "parent") {
		t.Fatalf("expected a warning about the absent parent, got %v", result.Warnings)
	}
}

func TestImportDropsDanglingReferences(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")

	now := time.Now().UTC()
	unknownJournal := uuid.NewString()
	data := &archiveData{
		JournalNotes: []backupJournalNote{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			JournalID: unknownJournal,
			NoteID:    uuid.NewString(),
		}},
		Transcripts: []backupTranscript{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			UpdatedAt: now,
			JournalID: unknownJournal,
			Text:      "lost",
		}},
		Tags: []backupTag{{
			ID:        uuid.NewString(),
			CreatedAt: now,
			JournalID: unknownJournal,
			Tag:       "lost",
		}},
	}

	importer := NewImportService(db)
	result, err := importer.Run(context.Background(), user.ID, data, StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Errors) != 0 {
		t.Fatalf("dangling references must be skipped, not erred: %+v", result.Errors)
	}
	if result.Conflicts != 3 {
		t.Fatalf("expected 3 dropped references, got %d", result.Conflicts)
	}
	if n := countFor(t, db, &models.JournalNote{}, "1 = 1"); n != 0 {
		t.Fatal("dangling link was inserted")
	}
	if n := countFor(t, db, &models.Transcript{}, "1 = 1"); n != 0 {
		t.Fatal("dangling transcript was inserted")
	}
	if n := countFor(t, db, &models.JournalTag{}, "1 = 1"); n != 0 {
		t.Fatal("dangling tag was inserted")
	}
}

func TestReplaceStrategyRemovesExistingRows(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")

	existing := models.Journal{UserID: user.ID, Title: "Old entry"}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("failed to seed journal: %v", err)
	}
	existingNote := models.Note{UserID: user.ID, Title: "Old note"}
	if err := db.Create(&existingNote).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}

	importer := NewImportService(db)
	result, err := importer.Run(context.Background(), user.ID, sampleArchiveData(), StrategyReplace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := countFor(t, db, &models.Journal{}, "user_id = ? AND title = ?", user.ID, "Old entry"); n != 0 {
		t.Fatal("pre-existing journal survived replace")
	}
	if n := db.Unscoped().Find(&[]models.Note{}, "user_id = ? AND title = ?", user.ID, "Old note").RowsAffected; n != 0 {
		t.Fatal("pre-existing note survived replace")
	}
	if n := countFor(t, db, &models.Journal{}, "user_id = ?", user.ID); n != int64(result.Journals) {
		t.Fatalf("expected only archived journals, got %d", n)
	}
}

func TestMergeStrategyKeepsExistingRows(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")

	existing := models.Journal{UserID: user.ID, Title: "Old entry"}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("failed to seed journal: %v", err)
	}

	importer := NewImportService(db)
	if _, err := importer.Run(context.Background(), user.ID, sampleArchiveData(), StrategyMerge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := countFor(t, db, &models.Journal{}, "user_id = ?", user.ID); n != 2 {
		t.Fatalf("expected old and new journal, got %d", n)
	}
}

func TestSkipStrategySkipsConflictingRecords(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")
	data := sampleArchiveData()

	// Same natural key as the archived journal.
	existing := models.Journal{
		UserID:    user.ID,
		CreatedAt: data.Journals[0].CreatedAt,
		Title:     data.Journals[0].Title,
	}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("failed to seed journal: %v", err)
	}

	importer := NewImportService(db)
	result, err := importer.Run(context.Background(), user.ID, data, StrategySkip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Journals != 0 {
		t.Fatalf("conflicting journal should not import, got %d", result.Journals)
	}
	if result.Conflicts == 0 {
		t.Fatal("expected the conflict to be counted")
	}
	if n := countFor(t, db, &models.Journal{}, "user_id = ?", user.ID); n != 1 {
		t.Fatalf("expected only the pre-existing journal, got %d", n)
	}
	// The journal did not import, so its transcript and tag are dropped
	// rather than dangling.
	if n := countFor(t, db, &models.Transcript{}, "1 = 1"); n != 0 {
		t.Fatal("transcript of skipped journal was inserted")
	}
}

func TestTransactionFailureLeavesNoPartialState(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")

	data := sampleArchiveData()
	// Five journals; the failure is injected on the third insert.
	now := time.Now().UTC()
	data.Journals = nil
	for i := 0; i < 5; i++ {
		data.Journals = append(data.Journals, backupJournal{
			ID:        uuid.NewString(),
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			UpdatedAt: now,
			Title:     "Entry",
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserted := 0
	err := db.Callback().Create().Before("gorm:create").Register("test_inject_failure", func(tx *gorm.DB) {
		if tx.Statement.Table == "journals" {
			inserted++
			if inserted == 3 {
				cancel()
			}
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	importer := NewImportService(db)
	if _, err := importer.Run(ctx, user.ID, data, StrategyMerge); err == nil {
		t.Fatal("expected the restore to fail")
	}

	if n := countFor(t, db, &models.Journal{}, "user_id = ?", user.ID); n != 0 {
		t.Fatalf("expected full rollback, found %d journals", n)
	}
}

func TestPerRecordFailureDoesNotAbortImport(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, "alice")

	data := sampleArchiveData()
	// Duplicate daily mood slot trips the unique index on the second
	// record; the rest of the import must continue.
	data.DailyMoods = append(data.DailyMoods, backupDailyMood{
		ID:        uuid.NewString(),
		CreatedAt: data.DailyMoods[0].CreatedAt,
		UpdatedAt: data.DailyMoods[0].UpdatedAt,
		Date:      data.DailyMoods[0].Date,
		Mood:      "sad",
		TimeOfDay: data.DailyMoods[0].TimeOfDay,
	})

	importer := NewImportService(db)
	result, err := importer.Run(context.Background(), user.ID, data, StrategyMerge)
	if err != nil {
		t.Fatalf("a single bad record must not abort the transaction: %v", err)
	}

	if len(result.Errors) != 1 {
		t.Fatalf("expected one record error, got %+v", result.Errors)
	}
	if result.Errors[0].Table != "daily_moods" {
		t.Fatalf("error recorded against the wrong table: %+v", result.Errors[0])
	}
	if result.Errors[0].RecordID != data.DailyMoods[1].ID {
		t.Fatal("error must carry the original record identifier")
	}
	if result.DailyMoods != 1 {
		t.Fatalf("expected the first mood to import, got %d", result.DailyMoods)
	}
	if result.Journals != 1 || result.Tags != 1 {
		t.Fatal("import stopped after the failed record")
	}
}
