package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitManager owns the per-client limiters and expires idle ones.
// General API traffic is limited per IP; backup and restore runs are
// limited per account, since one user can hold several addresses.
type RateLimitManager struct {
	visitors   map[string]*visitor
	visitorsMu sync.Mutex

	backupVisitors   map[string]*visitor
	backupVisitorsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRateLimitManager(ctx context.Context) *RateLimitManager {
	managerCtx, cancel := context.WithCancel(ctx)

	m := &RateLimitManager{
		visitors:       make(map[string]*visitor),
		backupVisitors: make(map[string]*visitor),
		ctx:            managerCtx,
		cancel:         cancel,
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// GetVisitor retrieves or creates the general limiter for an IP.
func (m *RateLimitManager) GetVisitor(ip string, requestsPerWindow, windowSeconds int) *rate.Limiter {
	m.visitorsMu.Lock()
	defer m.visitorsMu.Unlock()
	return getOrCreateLimiter(m.visitors, ip, requestsPerWindow, windowSeconds)
}

// GetBackupLimiter retrieves or creates the backup operation limiter
// for an account.
func (m *RateLimitManager) GetBackupLimiter(userID string, requestsPerWindow, windowSeconds int) *rate.Limiter {
	m.backupVisitorsMu.Lock()
	defer m.backupVisitorsMu.Unlock()
	return getOrCreateLimiter(m.backupVisitors, userID, requestsPerWindow, windowSeconds)
}

func getOrCreateLimiter(limiters map[string]*visitor, key string, requestsPerWindow, windowSeconds int) *rate.Limiter {
	if requestsPerWindow <= 0 {
		return nil
	}

	v, exists := limiters[key]
	if !exists {
		if windowSeconds <= 0 {
			windowSeconds = 60
		}

		limitPerSecond := float64(requestsPerWindow) / float64(windowSeconds)
		limit := rate.Limit(limitPerSecond)
		if limitPerSecond <= 0 {
			limit = rate.Inf
		}

		limiter := rate.NewLimiter(limit, requestsPerWindow)
		limiters[key] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func (m *RateLimitManager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *RateLimitManager) cleanup() {
	m.visitorsMu.Lock()
	for key, v := range m.visitors {
		if time.Since(v.lastSeen) > 3*time.Minute {
			delete(m.visitors, key)
		}
	}
	m.visitorsMu.Unlock()

	// Backup limiters live longer; a scheduled export can be hours apart.
	m.backupVisitorsMu.Lock()
	for key, v := range m.backupVisitors {
		if time.Since(v.lastSeen) > 10*time.Minute {
			delete(m.backupVisitors, key)
		}
	}
	m.backupVisitorsMu.Unlock()
}

// Shutdown stops the cleanup loop and waits for it to exit.
func (m *RateLimitManager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}
