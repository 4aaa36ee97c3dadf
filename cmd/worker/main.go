package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"faceattend/internal/archive"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/logging"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// Worker copies captured attendance and enrollment images to Cloudinary.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.IsProduction(), cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if !cfg.Cloudinary.Configured() {
		log.Fatal("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}
	if cfg.Archive.QueueBackend == "memory" {
		log.Fatal("the memory queue is process-local; run the worker with QUEUE_BACKEND=redis")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis not reachable yet, will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.Archive.QueueKey, log)
	worker := archive.NewWorker(q, cloudinary.New(cfg.Cloudinary), store.NewAttendanceRepository(db), log)

	log.WithField("queue", cfg.Archive.QueueKey).Info("worker started, waiting for jobs")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("worker stopped")
		return
	}
	log.Info("worker stopped")
}
