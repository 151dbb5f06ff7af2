package background

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"journal-backend/internal/models"
	"journal-backend/internal/service"
	"journal-backend/pkg/logger"
)

const backupJobName = "scheduled-backups"

// ScheduleBackups registers a periodic job that exports every account.
// A user whose export fails does not stop the sweep; a user already
// running a backup of their own is skipped.
func ScheduleBackups(s *Scheduler, db *gorm.DB, backups *service.BackupService, interval time.Duration) error {
	return s.Every(interval, Job{
		Name:    backupJobName,
		Timeout: interval,
		Run: func(ctx context.Context) error {
			return runBackupSweep(ctx, db, backups)
		},
	})
}

func runBackupSweep(ctx context.Context, db *gorm.DB, backups *service.BackupService) error {
	var userIDs []string
	if err := db.WithContext(ctx).Model(&models.User{}).Pluck("id", &userIDs).Error; err != nil {
		return err
	}

	var failed int
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, err := backups.CreateBackup(ctx, userID, nil)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrBackupInProgress):
			logger.Debug("Skipping scheduled backup, user run in progress", map[string]interface{}{"user": userID})
		default:
			failed++
			logger.Error(err, "Scheduled backup failed for user", map[string]interface{}{"user": userID})
		}
	}

	logger.Info("Scheduled backup sweep finished", map[string]interface{}{
		"users":  len(userIDs),
		"failed": failed,
	})
	return nil
}
