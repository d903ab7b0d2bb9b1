package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-exam-api/api/swagger"
	"github.com/noah-isme/sma-exam-api/internal/handler"
	"github.com/noah-isme/sma-exam-api/internal/middleware"
	"github.com/noah-isme/sma-exam-api/internal/models"
	"github.com/noah-isme/sma-exam-api/internal/repository"
	"github.com/noah-isme/sma-exam-api/internal/service"
	"github.com/noah-isme/sma-exam-api/pkg/cache"
	"github.com/noah-isme/sma-exam-api/pkg/config"
	"github.com/noah-isme/sma-exam-api/pkg/database"
	"github.com/noah-isme/sma-exam-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-exam-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-exam-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-exam-api/pkg/queue"
)

// @title SMA Exam Correction API
// @version 0.1.0
// @description Exam correction and grade aggregation service
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	examRepo := repository.NewExamRepository(db)
	responseRepo := repository.NewResponseRepository(db)
	openGradeRepo := repository.NewOpenGradeRepository(db)
	classRepo := repository.NewClassRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)
	gradeSpecRepo := repository.NewGradeSpecRepository(db)

	metrics := service.NewMetricsService()
	publisher := queue.NewPublisher(redisClient, cfg.Grading.QueueName, logr)

	dispatchSvc := service.NewDispatchService(examRepo, responseRepo, openGradeRepo, publisher, cfg.Grading.Model, metrics, logr)
	correctionSvc := service.NewCorrectionService(examRepo, responseRepo, openGradeRepo, dispatchSvc, metrics, logr)
	callbackSvc := service.NewCallbackService(openGradeRepo, dispatchSvc, cfg.Grading.MaxRetries, cfg.Grading.RateLimitRetryDelay, metrics, logr)
	defer callbackSvc.Close()

	var defaultSpec *models.GradeSpec
	if len(cfg.Spec.GoalWeights) > 0 {
		defaultSpec, err = models.NewGradeSpec(cfg.Spec.GoalWeights, cfg.Spec.ConceptWeights)
		if err != nil {
			logr.Sugar().Fatalw("invalid default grade specification", "error", err)
		}
	}
	gradeSpecSvc := service.NewGradeSpecService(classRepo, gradeSpecRepo, defaultSpec, logr)
	reportSvc := service.NewReportService(classRepo, enrollmentRepo, evaluationRepo, gradeSpecSvc, correctionSvc, cfg.Report, logr)

	correctionHandler := handler.NewCorrectionHandler(correctionSvc, dispatchSvc)
	callbackHandler := handler.NewCallbackHandler(callbackSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	gradeSpecHandler := handler.NewGradeSpecHandler(gradeSpecSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		authed := api.Group("", middleware.JWT(cfg.JWT.Secret))
		{
			authed.POST("/exams/:id/correct", correctionHandler.Correct)
			authed.GET("/exams/:id/answers", correctionHandler.Answers)
			authed.POST("/exams/:id/dispatch", correctionHandler.Dispatch)
			authed.GET("/classes/:id/report", reportHandler.Get)
			authed.GET("/classes/:id/grade-spec", gradeSpecHandler.Get)
			authed.PUT("/classes/:id/grade-spec", gradeSpecHandler.Put)
		}
		api.POST("/grading/callback", middleware.CallbackAuth(cfg.Grading.CallbackToken), callbackHandler.Receive)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
