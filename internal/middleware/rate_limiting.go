package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"journal-backend/internal/config"
)

// RateLimitMiddleware limits general request rate per client IP.
func RateLimitMiddleware(cfg *config.Config, manager *RateLimitManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil || shouldBypassRateLimit(c.Request) {
			c.Next()
			return
		}

		limiter := manager.GetVisitor(c.ClientIP(), cfg.RateLimitRequests, cfg.RateLimitWindow)
		if limiter == nil {
			c.Next()
			return
		}

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// BackupRateLimitMiddleware limits how often one account may start a
// backup or restore. It must run after AuthMiddleware.
func BackupRateLimitMiddleware(cfg *config.Config, manager *RateLimitManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.Next()
			return
		}

		userID := UserID(c)
		if userID == "" {
			c.Next()
			return
		}

		limiter := manager.GetBackupLimiter(userID, cfg.BackupRateLimitRequests, cfg.BackupRateLimitWindow)
		if limiter == nil {
			c.Next()
			return
		}

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "backup rate limit exceeded, please wait before retrying",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func shouldBypassRateLimit(r *http.Request) bool {
	if r == nil || r.URL == nil {
		return false
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}

	path := r.URL.Path
	if path == "" {
		return false
	}

	if strings.HasPrefix(path, "/uploads/") {
		return true
	}

	switch path {
	case "/health", "/favicon.ico":
		return true
	}

	return false
}
