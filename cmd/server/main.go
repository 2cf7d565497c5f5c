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

	"facestore/config"
	"facestore/internal/api/handlers"
	"facestore/internal/api/middleware"
	"facestore/internal/cleanup"
	"facestore/internal/core/processor"
	"facestore/internal/db"
	"facestore/internal/db/repository"
	"facestore/internal/identity"
	"facestore/internal/integrations/homeassistant"
	"facestore/internal/integrations/mqtt"
	"facestore/internal/integrations/provider"
	"facestore/internal/logger"
	"facestore/internal/util/timezone"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := os.Getenv("FACESTORE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile, err := logger.Init(cfg.Log)
	if err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	timezone.Initialize(cfg.Server.Timezone)

	// Datenbank und Identity-Store
	log.Info("Initializing database...")
	database, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			log.Errorf("Failed to close database: %v", err)
		}
	}()

	ctx := context.Background()
	store, err := identity.NewStore(ctx, repository.NewSQLiteRepository(database), identity.Options{
		Dimension: cfg.Store.Dimension,
	})
	if err != nil {
		log.Fatalf("Failed to open identity store: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		log.Fatalf("Failed to read store statistics: %v", err)
	}
	log.WithFields(log.Fields{
		"persons":   stats.PersonCount,
		"faces":     stats.FaceCount,
		"dimension": stats.Dimension,
	}).Info("Identity store ready")

	// Embedding-Dienst
	codec, err := provider.NewCodec(cfg.Codec)
	if err != nil {
		log.Fatalf("Failed to initialize face codec: %v", err)
	}
	if codec == nil {
		log.Info("Face codec is disabled, only embedding endpoints are available")
	} else if !codec.IsAvailable(ctx) {
		log.Warnf("Face codec %s at %s is not reachable yet", codec.Name(), cfg.Codec.URL)
	}

	// MQTT
	var publisher processor.Publisher
	mqttClient := mqtt.NewClient(cfg.MQTT)
	if cfg.MQTT.Enabled {
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			publisher = mqttClient
			if cfg.MQTT.HomeAssistant {
				discovery := homeassistant.NewDiscoveryManager(mqttClient, cfg.MQTT.DiscoveryPrefix)
				if err := discovery.Register(); err != nil {
					log.Warnf("Home Assistant discovery incomplete: %v", err)
				}
			}
		}
	}
	defer mqttClient.Stop()

	var images *identity.ImageStore
	if cfg.Store.SaveImages {
		images = identity.NewImageStore(cfg.Store.ImageDir)

		cleanupService := cleanup.NewService(store, cfg.Store.ImageDir,
			time.Duration(cfg.Store.CleanupInterval)*time.Minute,
			time.Duration(cfg.Store.CleanupMinAge)*time.Minute)
		cleanupService.StartBackgroundCleanup(ctx)
		defer cleanupService.StopBackgroundCleanup()
	}

	imageProcessor := processor.NewImageProcessor(store, codec, images, publisher, processor.ProcessingOptions{
		Threshold:  cfg.Store.Threshold,
		SaveImages: cfg.Store.SaveImages,
	})

	// Router
	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	apiHandler := handlers.NewAPIHandler(cfg, store, imageProcessor, codec)
	apiHandler.RegisterRoutes(router.Group("/api"))

	if images != nil {
		router.Static("/known_faces", images.Root())
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting server on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	log.Info("Server stopped.")
}
