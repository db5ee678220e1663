package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/ricechain/config"
	"example.com/ricechain/internal/cache"
	"example.com/ricechain/internal/messaging"
	"example.com/ricechain/internal/metrics"
	"example.com/ricechain/internal/search"
	"example.com/ricechain/internal/services"
	"example.com/ricechain/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to consume queued payment confirmations and audit inventory conservation`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer, _ = tracing.NewTracer(config.TracingConfig{})
	}

	var elasticClient *search.ElasticClient
	if cfg.Elastic.Enabled {
		elasticClient, err = search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search")
			elasticClient = nil
		}
	}

	metricsCollector := metrics.NewMetrics()

	supplyService := services.NewSupplyService(db, readOnlyDB, redisCache, elasticClient, metricsCollector, tracer)
	orderService := services.NewOrderService(db, readOnlyDB, redisCache, elasticClient, metricsCollector, tracer)

	azureBus, err := messaging.NewAzureServiceBus(cfg.Azure, tracer)
	if err != nil {
		return err
	}
	defer azureBus.Close(context.Background())

	// Queued payment confirmations from the payment provider
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting payment confirmation consumer")
		return azureBus.ProcessMessages(ctx, orderService.ProcessPaymentMessage)
	})

	// Periodic mass conservation audit over the inventory counters
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Audit.Interval).Msg("Starting inventory conservation audit job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Audit.Interval),
			gocron.NewTask(func() {
				if _, err := supplyService.AuditConservation(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to run conservation audit")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
