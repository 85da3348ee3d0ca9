package main

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pricetag/server/config"
	"pricetag/server/internal/api"
	"pricetag/server/internal/database"
	"pricetag/server/internal/processor"
	"pricetag/server/internal/queue"
	"pricetag/server/internal/scheduler"
	"pricetag/server/internal/units"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load .env if present; real environments set variables directly
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Load the unit catalog before anything standardizes a price
	if err := config.LoadUnitCatalog(cfg.Server.CatalogPath); err != nil {
		logger.WithError(err).Fatal("Failed to load unit catalog")
	}
	catalog := config.GetUnitCatalog()
	logger.Infof("Loaded unit catalog version %s", catalog.Version)

	// Initialize database
	logger.Infof("Using database at: %s", cfg.Server.DatabasePath)
	db, err := database.NewDatabase(cfg.Server.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	// Second handle for the transactional aggregation path
	gormDB, err := gorm.Open(sqlite.Open(cfg.Server.DatabasePath), &gorm.Config{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to open gorm database")
	}

	// Start the aggregation pipeline
	recordQueue := queue.NewRecordQueue(cfg.Aggregation.QueueSize, logger)
	aggregator := processor.NewAggregationProcessor(gormDB, recordQueue, cfg, logger)
	aggregator.Start()
	recordQueue.Start()
	defer aggregator.Stop()

	// Start the periodic statistics reconciliation job
	converter := units.NewConverter(catalog)
	reconciler := scheduler.NewScheduler(db, converter, time.Duration(cfg.Reconciliation.IntervalMinutes)*time.Minute, logger)
	reconciler.Start()
	defer reconciler.Stop()

	if cfg.Reconciliation.RunOnStartup {
		logger.Info("Running startup statistics reconciliation...")
		if err := reconciler.RunReconciliation(); err != nil {
			logger.WithError(err).Error("Startup reconciliation failed")
		}
	}

	// Initialize router
	router := gin.Default()
	router.Use(cors.Default())

	handler := api.NewHandler(db, cfg, recordQueue, reconciler, logger)
	api.SetupRoutes(router, handler)

	logger.Infof("Starting server on port %s", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
