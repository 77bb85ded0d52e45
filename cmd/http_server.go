package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/audit"
	auditpg "github.com/dojohq/booking-management/internal/audit/postgres"
	"github.com/dojohq/booking-management/internal/auth"
	authpg "github.com/dojohq/booking-management/internal/auth/postgres"
	"github.com/dojohq/booking-management/internal/booking"
	bookingpg "github.com/dojohq/booking-management/internal/booking/postgres"
	"github.com/dojohq/booking-management/internal/cache"
	"github.com/dojohq/booking-management/internal/core/events"
	"github.com/dojohq/booking-management/internal/mpesa"
	"github.com/dojohq/booking-management/internal/notification"
	"github.com/dojohq/booking-management/internal/transport/middleware"
	"github.com/dojohq/booking-management/internal/transport/rest"
	"github.com/dojohq/booking-management/internal/workqueue"
	workqueuepg "github.com/dojohq/booking-management/internal/workqueue/postgres"
	"github.com/dojohq/booking-management/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server with the webhook consumer and the expiry sweeper in-process`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	GormDB   *gorm.DB
	Router   *chi.Mux
	Logger   *slog.Logger
	Consumer *workqueue.Consumer
	Sweeper  *booking.Sweeper
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	deps.Consumer.Start()

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go deps.Sweeper.Run(sweepCtx)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		stopSweeper()
		deps.Consumer.Shutdown()
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
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

	store := cache.NewMemory()
	eventBus := events.NewEventBus(appLogger)

	auditRepo := auditpg.NewAuditRepository(gormDB)
	auditor := audit.NewService(auditRepo, appLogger)

	gateway := mpesa.NewClient(config.Mpesa, store, auditor, appLogger)

	bookingRepo := bookingpg.NewBookingRepository(gormDB)
	bookingService := booking.NewService(bookingRepo, gateway, auditor, eventBus, config.Booking, appLogger)
	reconciler := booking.NewReconciler(bookingRepo, gateway, auditor, eventBus, appLogger)

	jobRepo := workqueuepg.NewJobRepository(gormDB)
	consumer := workqueue.NewConsumer(jobRepo, callbackProcessor(reconciler),
		config.Booking.WebhookWorkers, config.Booking.WebhookPollEvery, config.Booking.WebhookMaxTries, appLogger)

	sweeper := booking.NewSweeper(bookingRepo, reconciler, config.Booking.SweepInterval, appLogger)

	notifier := notification.NewLogNotifier(appLogger)
	notification.NewEventHandler(notifier, appLogger).RegisterHandlers(eventBus)

	userRepo := authpg.NewUserRepository(gormDB)
	tokenGen := auth.NewJWTTokenGenerator(config.Security.JWTSecret, config.Security.AccessTokenDuration)
	authService := auth.NewService(userRepo, tokenGen, config.Security.BCryptCost)
	authHandler := auth.NewHandler(authService)

	bookingHandler := booking.NewHandler(bookingService, reconciler, auditor)
	webhookHandler := booking.NewWebhookHandler(consumer)

	router := chi.NewRouter()
	router.Use(middleware.LoggingMiddleware(appLogger))
	rest.RegisterAllRoutes(router, db.DB, authHandler, bookingHandler, webhookHandler, appLogger)

	return &Dependencies{
		Config:   config,
		DB:       db,
		GormDB:   gormDB,
		Router:   router,
		Logger:   appLogger,
		Consumer: consumer,
		Sweeper:  sweeper,
	}, nil
}

func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

func callbackProcessor(reconciler *booking.Reconciler) workqueue.ProcessFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		return processCallbackPayload(ctx, reconciler, payload)
	}
}
