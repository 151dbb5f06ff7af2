package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrBackupInProgress is returned when a backup or restore is already
// running for the same user.
var ErrBackupInProgress = errors.New("a backup or restore is already running for this user")

const lockTTL = time.Hour

// BackupLockManager serialises backup and restore per user with an
// advisory lock: redis SetNX across instances when redis is available,
// an in-process map otherwise.
type BackupLockManager struct {
	redis *redis.Client

	mu    sync.Mutex
	local map[string]struct{}
}

func NewBackupLockManager(redisClient *redis.Client) *BackupLockManager {
	return &BackupLockManager{
		redis: redisClient,
		local: make(map[string]struct{}),
	}
}

// Acquire takes the per-user lock. The caller must invoke the returned
// release function regardless of outcome.
func (m *BackupLockManager) Acquire(ctx context.Context, userID string) (func(), error) {
	if m.redis != nil {
		return m.acquireRedis(ctx, userID)
	}
	return m.acquireLocal(userID)
}

func (m *BackupLockManager) acquireRedis(ctx context.Context, userID string) (func(), error) {
	key := fmt.Sprintf("backup:lock:%s", userID)

	acquired, err := m.redis.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire backup lock: %w", err)
	}
	if !acquired {
		return nil, ErrBackupInProgress
	}

	return func() {
		// Release uses a fresh context so a cancelled operation still
		// drops its lock.
		m.redis.Del(context.Background(), key)
	}, nil
}

func (m *BackupLockManager) acquireLocal(userID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.local[userID]; held {
		return nil, ErrBackupInProgress
	}
	m.local[userID] = struct{}{}

	return func() {
		m.mu.Lock()
		delete(m.local, userID)
		m.mu.Unlock()
	}, nil
}
