package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/fleetwatch/services/telemetry/api"
	"example.com/fleetwatch/services/telemetry/config"
	"example.com/fleetwatch/services/telemetry/internal/broadcast"
	"example.com/fleetwatch/services/telemetry/internal/cache"
	"example.com/fleetwatch/services/telemetry/internal/database"
	"example.com/fleetwatch/services/telemetry/internal/messaging"
	"example.com/fleetwatch/services/telemetry/internal/observability"
	"example.com/fleetwatch/services/telemetry/internal/repository"
	"example.com/fleetwatch/services/telemetry/internal/service"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Serve command flags
	disableNewRelic bool
	serverPort      int
	gracefulTimeout int
	workerCount     int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the telemetry server",
	Long: `Starts the telemetry service: the sample queue consumer, the broadcast
pipeline, and the HTTP/websocket server clients subscribe through.

The server respects the configuration in config.yaml or specified via the
--config flag. It will gracefully shut down on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
	serveCmd.Flags().IntVar(&workerCount, "workers", 0, "Broadcast worker count (overrides config file)")
}

// startServer initializes and starts the telemetry server
func startServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override config with command line flags if provided
	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}
	if workerCount > 0 {
		cfg.Broadcast.Workers = workerCount
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"newrelic_enabled": cfg.NewRelic.Enabled && !disableNewRelic,
	}).Info("Initializing service components...")

	// Initialize database with retry logic
	var db database.DB
	maxRetries := 5
	retryInterval := time.Second

	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg.Database)
		if err == nil {
			break
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}

	if err != nil {
		log.Fatalf("Failed to connect to database after %d attempts: %v", maxRetries, err)
	}

	log.Info("Successfully connected to database")
	defer func() {
		log.Info("Closing database connection...")
		if err := db.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing database connection")
		}
	}()

	// Initialize Redis cache client
	log.Info("Connecting to Redis...")
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		log.Info("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing Redis connection")
		}
	}()

	// Initialize alert-history sender
	log.Info("Connecting to message broker...")
	alertSender, err := messaging.NewServiceBusClient(cfg.ServiceBus, cfg.ServiceBus.AlertQueueName, "telemetry-alerts", log)
	if err != nil {
		log.Fatalf("Failed to connect to message broker: %v", err)
	}
	defer func() {
		log.Info("Closing messaging connection...")
		if err := alertSender.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing messaging connection")
		}
	}()

	// Initialize New Relic if enabled
	var nrApp *newrelic.Application
	if !disableNewRelic {
		nrApp, err = observability.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.Warnf("Failed to initialize New Relic: %v", err)
		}
	}

	// Create repositories
	log.Info("Initializing repositories...")
	repo := repository.NewRepository(db)

	// Create the broadcast hub and service layer
	log.Info("Initializing service layer...")
	hub := broadcast.NewHub(log)
	svc, err := service.NewService(service.ServiceConfig{
		Repository:     repo,
		Cache:          redisClient,
		Hub:            hub,
		AlertForwarder: messaging.NewAlertPublisher(alertSender),
		Broadcast:      cfg.Broadcast,
		Logger:         log,
	})
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	// Start the sample queue consumer
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	consumer, err := messaging.NewSampleConsumer(cfg.ServiceBus, messaging.SampleHandlerFunc(svc.ProcessSample), log)
	if err != nil {
		log.Fatalf("Failed to create sample consumer: %v", err)
	}
	if consumer != nil {
		go func() {
			if err := consumer.Run(consumerCtx); err != nil && consumerCtx.Err() == nil {
				log.WithError(err).Error("Sample consumer stopped")
			}
		}()
	} else {
		log.Warn("No Service Bus connection string configured, queue consumption disabled")
	}

	// Create and start the server
	log.Info("Initializing API server...")
	server := api.NewServer(cfg, log, nrApp, svc, repo, hub)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithFields(logrus.Fields{
			"port": cfg.Server.Port,
		}).Info("Starting server...")

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-stop
	log.Infof("Received signal %s, shutting down gracefully...", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
	defer cancel()

	// Stop consuming before draining the pipeline
	stopConsumer()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warnf("Consumer shutdown error: %v", err)
		}
	}

	log.Info("Shutting down service components...")
	if err := svc.Shutdown(); err != nil {
		log.Warnf("Service shutdown error: %v", err)
	}

	log.Info("Shutting down HTTP server...")
	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("Server shutdown error: %v", err)
	}

	log.Info("Server shutdown complete")
}
