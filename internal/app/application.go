package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"journal-backend/internal/background"
	"journal-backend/internal/config"
	"journal-backend/internal/handlers"
	"journal-backend/internal/middleware"
	"journal-backend/internal/models"
	"journal-backend/internal/service"
	"journal-backend/pkg/logger"
)

// Application owns the process-wide pieces: database, redis, the backup
// engine, the background scheduler and the HTTP server.
type Application struct {
	cfg *config.Config

	db    *gorm.DB
	redis *redis.Client

	locks      *service.BackupLockManager
	backups    *service.BackupService
	rateLimits *middleware.RateLimitManager
	scheduler  *background.Scheduler

	backupHandler *handlers.BackupHandler

	router *gin.Engine
	server *http.Server
}

func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &Application{cfg: cfg}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initRedis(ctx); err != nil {
		return nil, err
	}

	app.initServices()
	app.initBackground(ctx)
	app.rateLimits = middleware.NewRateLimitManager(ctx)
	app.initRouter()

	app.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: app.router,
		// Archive downloads and uploads are long-running; only bound
		// the header read.
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return app, nil
}

func (a *Application) Run() error {
	logger.Info("Server starting", map[string]interface{}{
		"port":        a.cfg.Port,
		"environment": a.cfg.Environment,
	})

	return a.server.ListenAndServe()
}

func (a *Application) Shutdown(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			return err
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(ctx); err != nil {
			logger.Error(err, "Failed to stop scheduler cleanly", nil)
		}
	}

	if a.rateLimits != nil {
		a.rateLimits.Shutdown()
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Error(err, "Failed to close redis connection", nil)
		}
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}

	return nil
}

func (a *Application) Router() *gin.Engine {
	return a.router
}

func (a *Application) initDatabase() error {
	logger.Info("Connecting to database", nil)

	db, err := models.Open(a.cfg.DatabaseURL)
	if err != nil {
		return err
	}

	a.db = db
	return nil
}

func (a *Application) initRedis(ctx context.Context) error {
	if !a.cfg.EnableRedis {
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisURL})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.redis = client
	return nil
}

func (a *Application) initServices() {
	a.locks = service.NewBackupLockManager(a.redis)
	a.backups = service.NewBackupService(a.db, a.cfg.UploadDir, a.cfg.BackupDir, a.locks)
	a.backupHandler = handlers.NewBackupHandler(a.backups, a.cfg.MaxUploadSize)
}

func (a *Application) initBackground(ctx context.Context) {
	a.scheduler = background.NewScheduler(background.SchedulerConfig{WorkerCount: 2, QueueSize: 16})
	a.scheduler.Start(ctx)

	if !a.cfg.BackupScheduleEnabled {
		return
	}

	interval := time.Duration(a.cfg.BackupIntervalHours) * time.Hour
	if err := background.ScheduleBackups(a.scheduler, a.db, a.backups, interval); err != nil {
		logger.Error(err, "Failed to register the backup schedule", nil)
		return
	}
	logger.Info("Scheduled backups enabled", map[string]interface{}{
		"interval_hours": a.cfg.BackupIntervalHours,
	})
}

func (a *Application) initRouter() {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinLogger())
	router.Use(middleware.RateLimitMiddleware(a.cfg, a.rateLimits))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Backup-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.MaxMultipartMemory = 32 << 20

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	if a.cfg.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.Static("/uploads", a.cfg.UploadDir)

	v1 := router.Group("/api/v1")
	{
		backup := v1.Group("/backup")
		backup.Use(middleware.AuthMiddleware(a.cfg.JWTSecret))
		backup.Use(middleware.BackupRateLimitMiddleware(a.cfg, a.rateLimits))
		{
			backup.POST("/export", a.backupHandler.Export)
			backup.POST("/restore", a.backupHandler.Restore)
			backup.GET("/archives", a.backupHandler.List)
			backup.GET("/archives/:filename", a.backupHandler.Download)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "route not found",
			"path":  c.Request.URL.Path,
		})
	})

	a.router = router
}
