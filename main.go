package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"leadflow/config"
	"leadflow/middleware"
	"leadflow/routes"
	"leadflow/utils"
	"leadflow/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "ENGINE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize error reporting when configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Build the dispatch path: channel senders behind the dispatcher
	emailSender := utils.NewEmailSender(config.AppConfig.SMTP)
	smsSender := utils.NewSMSSender(config.AppConfig.SMS)
	dispatcher := utils.NewDispatcher(
		config.DB,
		emailSender,
		smsSender,
		config.AppConfig.BaseURL,
		config.AppConfig.SendTimeout,
	)
	tracker := utils.NewTracker(config.DB)

	// Initialize and start the sequence worker
	engine := worker.NewSequenceWorker(config.DB, dispatcher, tracker, logger, config.AppConfig.TickInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, dispatcher, tracker, engine)

	// Start server
	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
