package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"faceattend/internal/archive"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/bootstrap"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/faceclient"
	"faceattend/internal/logging"
	"faceattend/internal/queue"
	"faceattend/internal/store"
	"faceattend/internal/upload"
	"faceattend/internal/web"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.IsProduction(), cfg.LogLevel)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.WithError(err).Fatal("http server failed")
	}
}

func runHTTP(cfg config.App, log *logrus.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var redisClient *store.Redis
	if cfg.SessionBackend == "redis" || (cfg.Archive.Enabled && cfg.Archive.QueueBackend == "redis") {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	var sessionStore auth.Store
	if cfg.SessionBackend == "redis" {
		sessionStore = auth.NewRedisStore(redisClient.Client)
	} else {
		sessionStore = auth.NewMemoryStore()
	}
	sessions := auth.NewManager(sessionStore, cfg.SecretKey, cfg.SessionTTL, cfg.IsProduction(), log)

	face := faceclient.New(cfg.Face, log)
	users := store.NewUserRepository(db)
	records := store.NewAttendanceRepository(db)

	var opts []attendance.Option
	if q := archiveQueue(ctx, cfg, redisClient, records, log); q != nil {
		opts = append(opts, attendance.WithArchiver(archive.NewPublisher(q)))
		log.WithField("backend", cfg.Archive.QueueBackend).Info("image archiving enabled")
	}

	att := attendance.NewService(
		store.NewStudentRepository(db),
		records,
		face,
		upload.NewSaver(cfg.UploadDir),
		cfg.Location(),
		log,
		opts...,
	)

	bootCtx, cancel := context.WithTimeout(ctx, cfg.Face.Timeout+10*time.Second)
	err = bootstrap.Run(bootCtx, users, face, cfg.AdminPassword, log)
	cancel()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	checks := []web.HealthCheck{{Name: "db", Check: db.Ping}}
	if redisClient != nil {
		checks = append(checks, web.HealthCheck{Name: "redis", Check: redisClient.Ping})
	}
	checks = append(checks, web.HealthCheck{Name: "face", Check: face.Health})

	faceBackend := "baidu"
	if _, ok := face.(*faceclient.Stub); ok {
		faceBackend = "stub"
	}
	h := web.NewHandler(att, users, sessions, web.Settings{
		FaceBackend:     faceBackend,
		GroupID:         cfg.Face.GroupID,
		DisplayTimezone: cfg.DisplayTimezone,
		SessionBackend:  cfg.SessionBackend,
		ArchiveEnabled:  cfg.Archive.Enabled,
	}, checks, log)

	r, err := web.NewRouter(h, web.RouterOptions{
		UploadDir:       cfg.UploadDir,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("shutting down server")

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}
	log.Info("server exited")
	return nil
}

// archiveQueue returns the queue archive jobs are published to, or nil when
// archiving is off. The memory queue is process-local, so it is only used
// together with an in-process worker.
func archiveQueue(ctx context.Context, cfg config.App, redisClient *store.Redis,
	records archive.RecordUpdater, log logrus.FieldLogger) queue.Queue {
	if !cfg.Archive.Enabled {
		return nil
	}
	if cfg.Archive.QueueBackend != "memory" {
		return queue.NewRedisQueue(redisClient.Client, cfg.Archive.QueueKey, log)
	}
	if !cfg.Cloudinary.Configured() {
		log.Warn("cloudinary not configured, image archiving disabled for the memory queue")
		return nil
	}
	q := queue.NewInMemory(64)
	worker := archive.NewWorker(q, cloudinary.New(cfg.Cloudinary), records, log)
	go func() {
		_ = worker.Run(ctx)
	}()
	return q
}
