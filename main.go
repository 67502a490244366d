package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicwatch/changefeed"
	"civicwatch/config"
	"civicwatch/database"
	"civicwatch/handlers"
	"civicwatch/listener"
	"civicwatch/metrics"
	"civicwatch/middleware"
	"civicwatch/moderation"
	"civicwatch/pipeline"
	"civicwatch/redaction"
	"civicwatch/storage"
	ws "civicwatch/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warnf("No .env file loaded: %v", err)
	}

	cfg := config.Load()
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.CreateReportTables(); err != nil {
		log.WithError(err).Fatal("Failed to create report tables")
	}

	ctx := context.Background()
	store, err := storage.NewGCSStore(ctx, cfg.EvidenceBucket, cfg.StorageTimeout)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to evidence storage")
	}
	defer store.Close()

	// The AMQP feed links service instances; fall back to the in-process
	// feed when the broker is unreachable so submissions still work.
	var feed interface {
		changefeed.Feed
		changefeed.Notifier
	}
	amqpFeed, err := changefeed.NewAMQPFeed(cfg.AMQPURL, cfg.EventExchange)
	if err != nil {
		log.WithError(err).Warn("RabbitMQ unavailable, using in-process change feed")
		feed = changefeed.NewMemoryFeed()
	} else {
		feed = amqpFeed
		defer amqpFeed.Close()
	}

	metrics.Register()

	moderator := moderation.NewClient(cfg.ModerationEndpoint, cfg.ModerationAPIUser, cfg.ModerationAPIKey, cfg.ModerationTimeout)
	redactor := redaction.NewCoordinator(cfg.RedactionFetchTimeout)
	pipe := pipeline.New(moderator, redactor, store, db, feed, nil, cfg.AutoRedact, cfg.DBTimeout)

	hub := ws.NewHub()
	go hub.Run()

	refresher := listener.NewRefresher(feed, db, hub, 1, cfg.DBTimeout)
	if err := refresher.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start change feed refresher")
	}
	defer refresher.Stop()

	h := handlers.NewHandlers(pipe, db, hub, feed)

	router := gin.Default()
	router.Use(cors.Default())

	api := router.Group("/api/v1")
	{
		api.POST("/reports", h.SubmitReport)
		api.GET("/reports", gzip.Gzip(gzip.DefaultCompression), h.ListReports)
		api.GET("/reports/:id", h.GetReport)
		api.PATCH("/reports/:id/status", middleware.AuthMiddleware(cfg.JWTSecret), h.UpdateReportStatus)
		api.DELETE("/reports/:id", middleware.AuthMiddleware(cfg.JWTSecret), h.DeleteReport)
	}
	router.GET("/ws/reports", middleware.AuthMiddleware(cfg.JWTSecret), h.ListenReports)
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting civicwatch service on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}
