package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dojohq/booking-management/internal/audit"
	auditpg "github.com/dojohq/booking-management/internal/audit/postgres"
	"github.com/dojohq/booking-management/internal/booking"
	bookingpg "github.com/dojohq/booking-management/internal/booking/postgres"
	"github.com/dojohq/booking-management/internal/cache"
	mpesadm "github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
	"github.com/dojohq/booking-management/internal/core/events"
	"github.com/dojohq/booking-management/internal/mpesa"
	"github.com/dojohq/booking-management/internal/notification"
	"github.com/dojohq/booking-management/internal/workqueue"
	workqueuepg "github.com/dojohq/booking-management/internal/workqueue/postgres"
	"github.com/dojohq/booking-management/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the webhook consumer standalone",
	Long:  `Drain the durable webhook job queue without serving HTTP, for multi-process deployments`,
	Run: func(cmd *cobra.Command, args []string) {
		startWebhookWorker()
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue payment windows once and exit",
	Run: func(cmd *cobra.Command, args []string) {
		runSweep()
	},
}

// processCallbackPayload settles one queued webhook delivery.
func processCallbackPayload(ctx context.Context, reconciler *booking.Reconciler, payload json.RawMessage) error {
	var envelope mpesadm.CallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		// malformed payloads can never succeed; drop instead of retrying
		return nil
	}
	return reconciler.ProcessCallback(ctx, &envelope.Body.STKCallback, payload)
}

type workerDeps struct {
	reconciler *booking.Reconciler
	repo       booking.RepositoryAPI
	jobRepo    workqueue.RepositoryAPI
	gormDB     *gorm.DB
	cleanup    func()
}

func initWorkerDeps() (*workerDeps, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	eventBus := events.NewEventBus(appLogger)
	notification.NewEventHandler(notification.NewLogNotifier(appLogger), appLogger).RegisterHandlers(eventBus)

	auditor := audit.NewService(auditpg.NewAuditRepository(gormDB), appLogger)
	gateway := mpesa.NewClient(config.Mpesa, cache.NewMemory(), auditor, appLogger)
	bookingRepo := bookingpg.NewBookingRepository(gormDB)
	reconciler := booking.NewReconciler(bookingRepo, gateway, auditor, eventBus, appLogger)

	return &workerDeps{
		reconciler: reconciler,
		repo:       bookingRepo,
		jobRepo:    workqueuepg.NewJobRepository(gormDB),
		gormDB:     gormDB,
		cleanup:    func() { _ = db.Close() },
	}, nil
}

func startWebhookWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	deps, err := initWorkerDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize worker: %v\n", err)
		os.Exit(1)
	}
	defer deps.cleanup()

	appLogger := logger.LoggerWrapper()
	consumer := workqueue.NewConsumer(deps.jobRepo, callbackProcessor(deps.reconciler),
		config.Booking.WebhookWorkers, config.Booking.WebhookPollEvery, config.Booking.WebhookMaxTries, appLogger)
	consumer.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	appLogger.Info("received signal, stopping worker", "signal", sig)
	consumer.Shutdown()
}

func runSweep() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	deps, err := initWorkerDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize sweeper: %v\n", err)
		os.Exit(1)
	}
	defer deps.cleanup()

	appLogger := logger.LoggerWrapper()
	sweeper := booking.NewSweeper(deps.repo, deps.reconciler, config.Booking.SweepInterval, appLogger)
	expired := sweeper.SweepOnce(context.Background())
	appLogger.Info("sweep finished", "expired", expired)
}
