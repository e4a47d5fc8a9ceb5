package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postqueue/configs"
	"github.com/maheshrc27/postqueue/internal/api"
	"github.com/maheshrc27/postqueue/internal/api/handlers"
	"github.com/maheshrc27/postqueue/internal/api/middleware"
	"github.com/maheshrc27/postqueue/internal/database"
	"github.com/maheshrc27/postqueue/internal/instagram"
	job "github.com/maheshrc27/postqueue/internal/jobs"
	"github.com/maheshrc27/postqueue/internal/media"
	"github.com/maheshrc27/postqueue/internal/notify"
	"github.com/maheshrc27/postqueue/internal/queue"
	"github.com/maheshrc27/postqueue/internal/repository"
	"github.com/maheshrc27/postqueue/internal/scheduler"
	"github.com/maheshrc27/postqueue/internal/service"
	"github.com/maheshrc27/postqueue/pkg/utils"
	"github.com/maheshrc27/postqueue/pkg/vault"
)

func main() {
	issueToken := flag.Int64("issue-token", 0, "print an API token for the given operator id and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *issueToken != 0 {
		if cfg.Security.JWTSecret == "" {
			log.Fatal("JWT_SECRET must be set to issue tokens")
		}
		token, err := utils.GenerateToken(cfg.Security.JWTSecret, *issueToken, handlers.TokenLifetime)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	publicationRepo := repository.NewPublicationRepository(db)
	attemptRepo := repository.NewPublicationAttemptRepository(db)
	metricsRepo := repository.NewMetricsRepository(db)

	localStore, err := media.NewLocalStore(cfg.Media.Dir)
	if err != nil {
		log.Fatalf("Failed to prepare media dir: %v", err)
	}
	var r2Store *media.R2Store
	if cfg.R2.Enabled() {
		if r2Store, err = media.NewR2Store(ctx, cfg.R2); err != nil {
			log.Fatalf("Failed to configure R2: %v", err)
		}
	}
	storage := media.NewStorage(localStore, r2Store)
	validator := media.NewValidator(cfg.Media.MaxFileSize, cfg.Media.AllowedPhoto, cfg.Media.AllowedVideo)

	bridge := instagram.NewBridge(cfg.Instagram.BridgeURL, cfg.Instagram.RequestTimeout)

	accountService := service.NewAccountService(accountRepo, vault.New(cfg.Security.EncryptionPassword), bridge, cfg.Instagram.RequestTimeout)
	publicationService := service.NewPublicationService(publicationRepo, attemptRepo, accountRepo, validator, storage)

	notifier, stopNotifier := setupNotifications(ctx, cfg)
	defer stopNotifier()

	sched := scheduler.New(scheduler.Deps{
		DB:           db,
		Publications: publicationRepo,
		Attempts:     attemptRepo,
		Accounts:     accountRepo,
		Sessions:     accountService,
		Publisher:    bridge,
		Media:        storage,
		Prober:       media.FFProbe{Bin: cfg.Media.FFProbe},
		Notifier:     notifier,
	}, scheduler.Config{
		Interval:          cfg.Scheduler.Interval,
		BatchSize:         cfg.Scheduler.BatchSize,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		RetryDelay:        cfg.Scheduler.RetryDelay,
		MaxRetries:        cfg.Scheduler.MaxRetries,
		RequestTimeout:    cfg.Instagram.RequestTimeout,
		MaxReelDuration:   cfg.Media.MaxReelDuration,
		ClaimTTL:          cfg.Scheduler.ClaimTTL,
		Limits: scheduler.Limits{
			RequestsPerHour: cfg.Instagram.RequestsPerHour,
			PostsPerDay:     cfg.Instagram.PostsPerDay,
			StoriesPerDay:   cfg.Instagram.StoriesPerDay,
			ReelsPerDay:     cfg.Instagram.ReelsPerDay,
		},
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// cron jobs
	metricsJob := job.NewMetricsJob(publicationRepo, accountRepo, metricsRepo, notifier)
	c := utils.NewCron()
	if _, err := c.AddFunc("5 0 * * *", metricsJob.SnapshotYesterday); err != nil {
		log.Fatalf("Failed to schedule metrics job: %v", err)
	}
	if cfg.Notifications.WeeklyReports {
		if _, err := c.AddFunc("0 9 * * 1", metricsJob.SendWeeklyReport); err != nil {
			log.Fatalf("Failed to schedule weekly report: %v", err)
		}
	}
	c.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    int(cfg.Media.MaxFileSize)*10 + 1024*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error(err.Error(), "path", c.Path())
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       3600,
	}))

	api.SetupRoutes(app, api.Handlers{
		Auth:         handlers.NewAuthHandler(cfg.Security.JWTSecret),
		Accounts:     handlers.NewAccountHandler(accountService),
		Publications: handlers.NewPublicationHandler(publicationService),
		Stats:        handlers.NewStatsHandler(publicationService, metricsRepo),
	}, middleware.NewAuthMiddleware(cfg.Security.JWTSecret, cfg.Security.AllowedUsers))

	go func() {
		if err := app.Listen(cfg.Server.Addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on %s", cfg.Server.Addr)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("sd_notify failed", "error", err)
	} else if ok {
		slog.Info("notified systemd")
	}

	gracefulShutdown(app, func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		<-c.Stop().Done()
		sched.Stop()
		cancel()
	})
}

// setupNotifications builds the notifier. With the asynq transport the
// dispatcher enqueues events and an in-process asynq server delivers them, so
// another instance can take over delivery by sharing the Redis queue.
func setupNotifications(ctx context.Context, cfg *config.Config) (notify.Notifier, func()) {
	if !cfg.Notifications.Enabled {
		return notify.Nop{}, func() {}
	}

	telegram, err := notify.NewTelegramSink(cfg.Notifications.TelegramToken, cfg.Notifications.ChatIDs)
	if err != nil {
		log.Fatalf("Failed to set up Telegram: %v", err)
	}

	opts := notify.Options{
		Success: cfg.Notifications.Success,
		Errors:  cfg.Notifications.Errors,
		Reports: cfg.Notifications.WeeklyReports,
	}

	if cfg.Notifications.Transport != "asynq" {
		dispatcher := notify.NewDispatcher(telegram, opts)
		dispatcher.Start(ctx)
		return dispatcher, dispatcher.Stop
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.Notifications.RedisURI}
	client := asynq.NewClient(redisConn)
	dispatcher := notify.NewDispatcher(queue.NewEnqueuer(client), opts)
	dispatcher.Start(ctx)

	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: 2,
	})
	log.Println("Starting the Asynq server...")
	if err := server.Start(queue.NewQueue(telegram).ServeMux()); err != nil {
		log.Fatalf("Could not start Asynq server: %v", err)
	}

	return dispatcher, func() {
		dispatcher.Stop()
		server.Shutdown()
		client.Close()
	}
}

func closeDB(db *database.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, stop func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Failed to shut down server: %v", err)
	}
	stop()

	log.Println("Server shutdown complete.")
}
