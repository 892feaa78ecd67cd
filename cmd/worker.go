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

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/messaging"
	"example.com/backoffice/services/ledger/projections"
	"example.com/backoffice/services/ledger/replay"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the indexing and consistency worker",
	Run:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) {
	log.Info().Msg("Starting worker")

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

	// Initialize Elasticsearch client
	esClient, err := projections.NewElasticsearchClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Elasticsearch")
	}
	if err := projections.EnsureIndices(esClient, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure indices")
	}

	// Initialize and start the event indexer
	indexer := projections.NewIndexer(store, esClient, cfg)
	go indexer.Start()

	// Outbound publisher for drift alerts
	var publisher messaging.Publisher
	if cfg.AzureNotificationsEnabled && cfg.AzureQueueConnStr != "" {
		azureClient, err := messaging.NewAzureClient(cfg.AzureQueueConnStr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Azure Service Bus")
		}
		publisher = azureClient
	} else {
		publisher = messaging.NewMemoryPublisher()
	}

	// Daily consistency drift sweep over all aggregates
	engine := replay.NewEngine(store)
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			sweepConsistency(store, engine, publisher)
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule consistency sweep")
	}
	scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	if err := scheduler.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Error shutting down scheduler")
	}
	indexer.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := publisher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error closing publisher")
	}

	log.Info().Msg("Worker exited properly")
}

// sweepConsistency replays every aggregate, logs drift and publishes a
// compliance alert per drifted aggregate.
func sweepConsistency(store eventstore.Store, engine *replay.Engine, publisher messaging.Publisher) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	ids, err := store.ListAggregateIDs(ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("Consistency sweep failed to list aggregates")
		return
	}

	drifted := 0
	for _, id := range ids {
		report, err := engine.ValidateAggregateConsistency(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("aggregateID", id).Msg("Consistency check failed")
			continue
		}
		if !report.Consistent {
			drifted++
			alertErr := publisher.Publish(ctx, messaging.TopicComplianceAlerts, messaging.Envelope{
				EventType:   "ledger.drift_detected",
				AggregateID: id,
				Data: map[string]interface{}{
					"stored_version":   report.StoredVersion,
					"replayed_version": report.ReplayedVersion,
					"differences":      len(report.Differences),
				},
			})
			if alertErr != nil {
				log.Error().Err(alertErr).Str("aggregateID", id).Msg("Failed to publish drift alert")
			}
		}
	}

	log.Info().
		Int("aggregates", len(ids)).
		Int("drifted", drifted).
		Msg("Consistency sweep finished")
}
