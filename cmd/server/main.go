// Package main runs the tracking HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SeanDreamHsu/shorts-counter/config"
	"github.com/SeanDreamHsu/shorts-counter/internal/archive"
	"github.com/SeanDreamHsu/shorts-counter/internal/history"
	"github.com/SeanDreamHsu/shorts-counter/internal/insights"
	"github.com/SeanDreamHsu/shorts-counter/internal/middleware"
	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/realtime"
	"github.com/SeanDreamHsu/shorts-counter/internal/settings"
	"github.com/SeanDreamHsu/shorts-counter/internal/store"
	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
	"github.com/SeanDreamHsu/shorts-counter/internal/worker"
	"github.com/SeanDreamHsu/shorts-counter/pkg/queue"
	"github.com/SeanDreamHsu/shorts-counter/pkg/redis"
	"github.com/SeanDreamHsu/shorts-counter/pkg/response"
	"github.com/SeanDreamHsu/shorts-counter/pkg/storage"
)

const enqueueTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	loc, _ := cfg.Tracker.Location()

	// Redis is required by the redis store; otherwise it only enables the job queue and
	// cross-instance delivery, and the server runs without it.
	rdb, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		if cfg.Store.Driver == "redis" {
			logger.Fatal("redis", zap.Error(err))
		}
		logger.Warn("redis unavailable; job queue and cross-instance events disabled", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	storeOpts := store.Options{
		Driver:      cfg.Store.Driver,
		FilePath:    cfg.Store.FilePath,
		RedisPrefix: cfg.Store.RedisPrefix,
		Logger:      logger,
	}
	if rdb != nil {
		storeOpts.RedisClient = rdb.Client
	}
	st, err := store.Open(ctx, storeOpts)
	if err != nil {
		logger.Fatal("state store", zap.Error(err))
	}
	defer st.Close()

	// Tracking core
	state := tracker.NewStateRepository(st)
	var serialOpts []tracker.SerializerOption
	if l, ok := st.(store.Locker); ok {
		serialOpts = append(serialOpts, tracker.WithLock(l))
	}
	serial := tracker.NewSerializer(logger, serialOpts...)
	clock := tracker.SystemClock()
	manager := tracker.NewManager(state, serial, clock, tracker.UUIDs(), logger)
	reporter := tracker.NewReporter(state, clock, loc)
	watchdog := tracker.NewWatchdog(state, serial, manager, logger)

	// Realtime: the hub doubles as the tab closer for CLOSE_TAB.
	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, cfg.Store.RedisPrefix, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	dispatcher := tracker.NewDispatcher(manager, reporter, hub, logger)
	hub.SetHandlers(dispatcher, watchdog)
	trackerHandler := tracker.NewHandler(dispatcher, reporter, watchdog)

	// Jobs: archive every finalized session, back up history on demand.
	var jobQueue *queue.Queue
	if rdb != nil {
		jobQueue = queue.NewQueue(rdb.Client, logger)
	}
	if jobQueue != nil && cfg.Archive.Driver != "" {
		manager.OnFinalized(func(s models.HistoricalSession) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
				defer cancel()
				if err := jobQueue.EnqueueArchiveSession(ctx, s); err != nil {
					logger.Warn("enqueue archive job", zap.String("session_id", s.ID), zap.Error(err))
				}
			}()
		})
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			BackupBucket:         cfg.AWS.BackupBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// History
	historySvc := history.NewService(state, serial, tracker.UUIDs(), logger)
	today := func() string { return time.Now().In(loc).Format("2006-01-02") }
	var historyHandler *history.Handler
	if jobQueue != nil {
		historyHandler = history.NewHandler(historySvc, jobQueue, today, logger)
	} else {
		historyHandler = history.NewHandler(historySvc, nil, today, logger)
	}
	if s3Client != nil {
		historyHandler.SetBackupBrowser(s3Client)
	}

	// Settings and insights
	settingsSvc := settings.NewService(st)
	settingsHandler := settings.NewHandler(settingsSvc)
	insightsHandler := insights.NewHandler(insights.NewService(reporter, settingsSvc, insights.NudgeConfig{
		BreakEvery: cfg.Tracker.BreakReminderEvery,
		DecayStart: cfg.Tracker.DecayStart,
		DecayMax:   cfg.Tracker.DecayMax,
	}))

	// Archive (read side; the worker writes)
	arch, err := archive.Open(ctx, cfg.Archive, logger)
	switch {
	case errors.Is(err, archive.ErrDisabled):
		arch = nil
	case err != nil:
		logger.Warn("archive disabled", zap.Error(err))
		arch = nil
	default:
		defer arch.Close()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok", "clients": hub.ClientCount()}) })

	// Message contract and reporter views
	router.POST("/messages", trackerHandler.PostMessage)
	router.GET("/status", trackerHandler.GetStatus)
	router.GET("/stats/daily", trackerHandler.GetDailyStats)

	// Watchdog inputs
	router.POST("/tabs/:id/removed", trackerHandler.TabRemoved)
	router.POST("/tabs/:id/updated", trackerHandler.TabUpdated)

	// History
	hist := router.Group("/history")
	{
		hist.GET("", historyHandler.List)
		hist.GET("/export", historyHandler.Export)
		hist.POST("/import", historyHandler.Import)
		hist.POST("/reset", historyHandler.Reset)
		hist.POST("/backup", historyHandler.Backup)
		hist.GET("/backups", historyHandler.ListBackups)
		hist.DELETE("/:id", historyHandler.Delete)
	}

	// Insights
	ins := router.Group("/insights")
	{
		ins.GET("/week", insightsHandler.Week)
		ins.GET("/compare", insightsHandler.Compare)
		ins.GET("/vibe", insightsHandler.Vibe)
		ins.GET("/nudges", insightsHandler.Nudges)
	}

	// Settings
	router.GET("/settings", settingsHandler.Get)
	router.PATCH("/settings", settingsHandler.Update)

	// Archive
	if arch != nil {
		archiveHandler := archive.NewHandler(arch)
		router.GET("/archive/sessions", archiveHandler.Sessions)
		router.GET("/archive/totals", archiveHandler.Totals)
	}

	// WebSocket
	router.GET("/ws", realtime.ServeWs(hub, logger, cfg.Server.CORSAllowedOrigins))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if err := watchdog.Sweep(bgCtx); err != nil {
		logger.Warn("startup sweep failed", zap.Error(err))
	}
	go watchdog.Run(bgCtx, cfg.Tracker.SweepInterval)
	if err := hub.StreamChanges(bgCtx, st); err != nil {
		logger.Warn("change stream disabled", zap.Error(err))
	}

	// Background worker (archive + backups) when not run as a separate process
	if jobQueue != nil && cfg.Server.EmbeddedWorker {
		var archiver worker.Archiver
		if arch != nil {
			archiver = arch
		}
		var uploader worker.BackupUploader
		if s3Client != nil {
			uploader = s3Client
		}
		go worker.NewProcessor(jobQueue, archiver, uploader, logger).Run(bgCtx)
		logger.Info("embedded worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	bgCancel()
	// Let queued state writes land before the store closes.
	serial.Close()
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	if level == "debug" {
		config = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
