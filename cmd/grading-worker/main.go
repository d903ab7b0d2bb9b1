package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/noah-isme/sma-exam-api/internal/grading"
	"github.com/noah-isme/sma-exam-api/internal/worker"
	"github.com/noah-isme/sma-exam-api/pkg/cache"
	"github.com/noah-isme/sma-exam-api/pkg/config"
	"github.com/noah-isme/sma-exam-api/pkg/logger"
	"github.com/noah-isme/sma-exam-api/pkg/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	grader := grading.New(cfg.Grading.OpenAIBaseURL, cfg.Grading.OpenAIAPIKey, cfg.Grading.Model)
	w := worker.New(grader, cfg.Grading.CallbackURL, cfg.Grading.CallbackToken, logr)

	consumer := queue.NewConsumer(redisClient, cfg.Grading.QueueName, w.Handle, queue.ConsumerConfig{
		Workers: cfg.Grading.WorkerConcurrency,
		Logger:  logr,
	})
	consumer.Start(context.Background())

	logr.Sugar().Infow("grading worker started",
		"queue", cfg.Grading.QueueName, "workers", cfg.Grading.WorkerConcurrency, "model", cfg.Grading.Model)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("grading worker shutting down")
	consumer.Stop()
}
