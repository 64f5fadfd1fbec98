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

	"github.com/reelworks/sportsreel-backend/internal/config"
	"github.com/reelworks/sportsreel-backend/internal/db"
	"github.com/reelworks/sportsreel-backend/internal/handlers"
	"github.com/reelworks/sportsreel-backend/internal/logger"
	"github.com/reelworks/sportsreel-backend/internal/repos"
	"github.com/reelworks/sportsreel-backend/internal/server"
	"github.com/reelworks/sportsreel-backend/internal/services"
	"github.com/reelworks/sportsreel-backend/internal/sse"
	"github.com/reelworks/sportsreel-backend/internal/sse/bus"
	"github.com/reelworks/sportsreel-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfgPath := utils.GetEnv("CONFIG_PATH", "config.yaml", log)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("Could not load config", "error", err)
		os.Exit(1)
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	athleteRepo := repos.NewAthleteRepo(thePG, log)
	videoJobRepo := repos.NewVideoJobRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)
	var eventBus bus.Bus
	if os.Getenv("REDIS_ADDR") != "" {
		eventBus, err = bus.NewRedisBus(log)
		if err != nil {
			log.Warn("Could not init Redis event bus, running local-only", "error", err)
			eventBus = nil
		}
	}

	// Services
	log.Info("Setting up services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	scriptProvider, err := services.NewScriptProviderService(log)
	if err != nil {
		log.Error("Could not init ScriptProviderService", "error", err)
		os.Exit(1)
	}
	speechService, err := services.NewSpeechSynthesisService(log, cfg.Pipeline.SpeechMaxCharsPerCall)
	if err != nil {
		log.Error("Could not init SpeechSynthesisService", "error", err)
		os.Exit(1)
	}
	defer speechService.Close()
	composer, err := services.NewVideoComposerService(log)
	if err != nil {
		log.Error("Could not init VideoComposerService", "error", err)
		os.Exit(1)
	}
	if err := composer.AssertReady(context.Background()); err != nil {
		log.Warn("Video composer not ready", "error", err)
	}

	pipeline, err := services.NewReelPipeline(log, cfg, videoJobRepo, scriptProvider, speechService, composer, bucketService)
	if err != nil {
		log.Error("Could not init ReelPipeline", "error", err)
		os.Exit(1)
	}
	queue, err := services.NewGenerationQueue(log, cfg, videoJobRepo, pipeline)
	if err != nil {
		log.Error("Could not init GenerationQueue", "error", err)
		os.Exit(1)
	}

	eventBridge := services.NewJobEventBridge(log, sseHub, eventBus)
	queue.AddListener(eventBridge)
	if err := eventBridge.StartForwarding(context.Background()); err != nil {
		log.Warn("Could not start event forwarding", "error", err)
	}
	queue.Start()

	// Handlers
	log.Info("Setting up handlers from main...")
	athleteHandler := handlers.NewAthleteHandler(athleteRepo)
	generateHandler := handlers.NewGenerateHandler(queue, athleteRepo, videoJobRepo, eventBridge)
	sseHandler := handlers.NewSSEHandler(sseHub)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AthleteHandler:  athleteHandler,
		GenerateHandler: generateHandler,
		SSEHandler:      sseHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Shutdown: stop accepting requests first, then drain active jobs.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	grace := utils.GetEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 30, log)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(grace)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown error", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Warn("Queue drain timed out, interrupted jobs marked failed", "error", err)
	}
	if eventBus != nil {
		_ = eventBus.Close()
	}
	log.Info("Shutdown complete")
}
