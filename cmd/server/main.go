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

	"go.uber.org/zap"

	"lms-backend/internal/changefeed"
	"lms-backend/internal/config"
	"lms-backend/internal/database"
	"lms-backend/internal/handlers"
	"lms-backend/internal/logger"
	"lms-backend/internal/metrics"
	"lms-backend/internal/middleware"
	"lms-backend/internal/quizqueue"
	"lms-backend/internal/repository"
	"lms-backend/internal/router"
	"lms-backend/internal/services"
	"lms-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log := logger.New(cfg.LogLevel, cfg.LogFile)
	defer log.Sync()
	zap.ReplaceGlobals(log)
	log.Info("starting LMS backend", zap.String("env", cfg.Env))

	metrics.Init()

	ctx := context.Background()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pool.Close()
	log.Info("postgres connected")

	// ──── Step 3: Run Database Migrations ────
	if err := database.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("database migration failed", zap.Error(err))
	}

	// ──── Step 4: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisClients.Close()
	log.Info("redis connected")

	// ──── Initialize Repositories ────
	contentRepo := repository.NewContentRepo(pool)
	lessonRepo := repository.NewLessonRepo(pool)
	progressRepo := repository.NewProgressRepo(pool)
	ticketRepo := repository.NewTicketRepo(pool)
	instructorRepo := repository.NewInstructorRepo(pool)
	presenceRepo := repository.NewPresenceRepo(pool)
	queueRepo := repository.NewQueueStateRepo(redisClients.State, cfg.LessonQueueTTL)

	feed := changefeed.NewRedisFeed(redisClients.PubSub, log.Named("changefeed"))

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	checkpoint := services.NewCheckpointController(contentRepo, progressRepo, ticketRepo, instructorRepo, feed, log.Named("checkpoint"))
	lessonService := services.NewLessonService(
		contentRepo,
		lessonRepo,
		queueRepo,
		checkpoint,
		feed,
		quizqueue.Policy{InitialPerTopic: cfg.QuizInitialPerTopic},
		cfg.DefaultTestMaxScore,
		log.Named("lessons"),
	)
	ticketService := services.NewTicketService(ticketRepo, instructorRepo, progressRepo, feed, log.Named("tickets"))
	presenceService := services.NewPresenceService(presenceRepo, instructorRepo, checkpoint, feed, cfg.PresenceOnlineWindow, log.Named("presence"))
	authoringService := services.NewAuthoringService(contentRepo, log.Named("authoring"))

	// ──── Initialize Handlers ────
	lessonHandler := handlers.NewLessonHandler(lessonService)
	ticketHandler := handlers.NewTicketHandler(ticketService)
	presenceHandler := handlers.NewPresenceHandler(presenceService)
	authoringHandler := handlers.NewAuthoringHandler(authoringService)

	// ──── Step 5: Start Background Loops ────
	broadcaster := services.NewPresenceBroadcaster(feed, cfg.PresenceBroadcastInterval, log.Named("presence"))
	broadcaster.Start()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	wsHub := websocket.NewHub(feed, jwtAuth, log.Named("ws"))

	// ──── Step 6: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		limiter,
		lessonHandler,
		ticketHandler,
		presenceHandler,
		authoringHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Websocket connections outlive any write timeout, so API routes
		// are bounded by chi's Timeout middleware instead.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		broadcaster.Stop()
		limiter.Stop()
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("LMS backend ready",
		zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port)))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
