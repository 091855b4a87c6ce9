package main

import (
	"fmt"
	"os"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(&cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// The dashboard never reads credentials, so the store has no cipher.
	NewAPIHandler(log, database.NewStore(db, nil, log)).Register(router)

	addr := fmt.Sprintf(":%d", cfg.Server.DashboardPort)
	log.Info("Starting dashboard", zap.String("address", addr))

	if err := router.Run(addr); err != nil {
		log.Fatal("Dashboard failed", zap.Error(err))
	}
}
