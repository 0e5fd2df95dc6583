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
	"github.com/go-redis/redis"
	"github.com/pylonhq/pylon/internal/app"
	"github.com/pylonhq/pylon/internal/config"
	"github.com/pylonhq/pylon/internal/database"
	"github.com/pylonhq/pylon/internal/server"
	"github.com/pylonhq/pylon/pkg/Logger"
	"gorm.io/gorm"
)

// This is the main entry point for the relay hub.
// Loads in all system components
// Exposes the device/observer sockets and the HTTP API
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	// optional session audit store
	var db *gorm.DB
	if cfg.DB.Enabled {
		db, err = database.InitDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := database.MigrateDB(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// optional resource snapshot cache
	var rc *redis.Client
	if cfg.Redis.Enabled {
		rc, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
	}

	hub, err := app.NewApp(cfg, logger, db, rc)
	if err != nil {
		log.Fatalf("Failed to wire application: %v", err)
	}
	hub.ConnLog.CloseAllOpenOnStartup(time.Now())
	hub.Start()
	defer hub.Close()

	// compose router
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	server.InitializeRoutes(router, hub.GetServerDependencies())

	// listen with graceful exit
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("Hub listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server exiting: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	logger.Info("Shutdown system")
}
