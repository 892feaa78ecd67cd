package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/backoffice/services/ledger/api"
	"example.com/backoffice/services/ledger/audit"
	"example.com/backoffice/services/ledger/cache"
	"example.com/backoffice/services/ledger/dispatch"
	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/messaging"
	"example.com/backoffice/services/ledger/replay"
	"example.com/backoffice/services/ledger/schema"
	"example.com/backoffice/services/ledger/tracing"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Run:   runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) {
	log.Info().Msg("Starting server")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Initialize event store and migrate tables
	store := eventstore.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Initialize schema registry and migrator
	registry := schema.DefaultRegistry()
	migrator := schema.NewMigrator(store, registry)

	// Initialize replay engine and audit service
	engine := replay.NewEngine(store)
	auditSvc := audit.NewService(store)

	// Initialize outbound publisher
	var publisher messaging.Publisher
	if cfg.AzureNotificationsEnabled && cfg.AzureQueueConnStr != "" {
		azureClient, err := messaging.NewAzureClient(cfg.AzureQueueConnStr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Azure Service Bus")
		}
		publisher = azureClient

		// Start inbound event command consumers
		go func() {
			processor := messaging.NewProcessor(store)
			if err := azureClient.StartConsumers(cfg.AzureEventsQueueName, processor); err != nil {
				log.Fatal().Err(err).Msg("Failed to start events queue consumer")
			}
		}()
	} else {
		log.Warn().Msg("Service bus disabled, notifications stay in memory")
		publisher = messaging.NewMemoryPublisher()
	}

	// Initialize dispatcher and hook it to the store
	dispatcher := dispatch.NewDispatcher(store, dispatch.NewSideEffectHandler(publisher), dispatch.Config{
		Workers:          cfg.Dispatcher.Workers,
		QueueSize:        cfg.Dispatcher.QueueSize,
		MaxAttempts:      cfg.Dispatcher.MaxAttempts,
		BaseBackoff:      cfg.Dispatcher.BaseBackoff,
		MaxBackoff:       cfg.Dispatcher.MaxBackoff,
		BreakerThreshold: cfg.Dispatcher.BreakerThreshold,
		BreakerCoolDown:  cfg.Dispatcher.BreakerCoolDown,
	})
	dispatcher.SetAlertPublisher(publisher)
	store.AddNotifier(dispatcher)

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	dispatcher.Start(dispatchCtx)

	// Hourly dispatcher metrics reset
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			dispatcher.Metrics().ResetHourly()
			log.Info().Msg("Dispatcher metrics reset")
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule metrics reset")
	}
	scheduler.Start()

	// Initialize cache; appends from any path invalidate cached state
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Redis")
	}
	if redisCache.Enabled() {
		store.AddNotifier(cache.NewInvalidator(redisCache))
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer")
	}

	// Initialize server
	server := api.NewServer(cfg, store, engine, auditSvc, registry, migrator, dispatcher, redisCache, tracer)

	// Start HTTP server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := scheduler.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Error shutting down scheduler")
	}
	cancelDispatch()
	dispatcher.Stop()
	if err := publisher.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing publisher")
	}
	if err := redisCache.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Redis")
	}
	tracer.Close()

	log.Info().Msg("Server exited properly")
}
